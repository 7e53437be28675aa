package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmac/telehealth/internal/platform/db"
)

// PG reads parties and subscriptions from Postgres.
type PG struct {
	pool db.Querier
}

func NewPG(pool db.Querier) *PG {
	return &PG{pool: pool}
}

var (
	_ Directory    = (*PG)(nil)
	_ Entitlements = (*PG)(nil)
)

func (r *PG) GetProfile(ctx context.Context, partyID uuid.UUID) (*Profile, error) {
	var p Profile
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, kind, name, email, COALESCE(country, ''), COALESCE(timezone, ''), COALESCE(calendar_id, '')
		FROM parties WHERE id = $1`, partyID).
		Scan(&p.ID, &p.Kind, &p.Name, &p.Email, &p.Country, &p.Timezone, &p.CalendarID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, partyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get party %s: %w", partyID, err)
	}
	return &p, nil
}

func (r *PG) GetTimezone(ctx context.Context, partyID uuid.UUID) (string, error) {
	var zone string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(timezone, '') FROM parties WHERE id = $1`, partyID).Scan(&zone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, partyID)
	}
	if err != nil {
		return "", fmt.Errorf("get timezone %s: %w", partyID, err)
	}
	return zone, nil
}

func (r *PG) GetSubscribedProduct(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var productID string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT product_id FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC LIMIT 1`, userID).Scan(&productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get subscription %s: %w", userID, err)
	}
	return productID, true, nil
}
