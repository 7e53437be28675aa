// Package directory resolves parties (patients and consultants) and their
// entitlements. The orchestrators only read from it.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("party not found")

// Kind distinguishes patients from the two consultant classes.
type Kind string

const (
	KindPatient   Kind = "patient"
	KindExpert    Kind = "expert"
	KindTherapist Kind = "therapist"
)

// Profile is what the orchestrators need to know about a party.
type Profile struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Country    string    `json:"country,omitempty"`
	Timezone   string    `json:"timezone,omitempty"`
	CalendarID string    `json:"calendar_id,omitempty"`
}

// Directory looks up parties.
type Directory interface {
	// GetTimezone returns the party's IANA zone, or "" when none is recorded.
	GetTimezone(ctx context.Context, partyID uuid.UUID) (string, error)
	GetProfile(ctx context.Context, partyID uuid.UUID) (*Profile, error)
}

// Entitlements reports the product a user is subscribed to.
type Entitlements interface {
	GetSubscribedProduct(ctx context.Context, userID uuid.UUID) (productID string, ok bool, err error)
}
