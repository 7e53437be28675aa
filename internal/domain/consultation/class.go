package consultation

import (
	"time"

	"github.com/dmac/telehealth/internal/platform/directory"
)

// Class is a consultant class. Each class has its own slot table, its own
// consultation table and its own identifier type code.
type Class struct {
	Name              string
	TypeCode          string
	Kind              directory.Kind
	SlotTable         string
	ConsultationTable string
	// SeriesLength is the number of sessions of a recurring booking; zero
	// means the class has no recurring variant. Sessions are
	// SeriesIntervalDays calendar days apart.
	SeriesLength       int
	SeriesIntervalDays int
}

var (
	Expert = Class{
		Name:              "expert",
		TypeCode:          "EX",
		Kind:              directory.KindExpert,
		SlotTable:         "expert_slots",
		ConsultationTable: "expert_consultations",
	}
	Therapist = Class{
		Name:              "therapist",
		TypeCode:          "TH",
		Kind:              directory.KindTherapist,
		SlotTable:         "therapist_slots",
		ConsultationTable: "therapist_consultations",
		SeriesLength:       6,
		SeriesIntervalDays: 2,
	}
)

// Classes lists every class in route order.
var Classes = []Class{Expert, Therapist}

// ClassByName returns the class with the given name.
func ClassByName(name string) (Class, bool) {
	for _, c := range Classes {
		if c.Name == name {
			return c, true
		}
	}
	return Class{}, false
}

func (c Class) HasSeries() bool {
	return c.SeriesLength > 0 && c.SeriesIntervalDays > 0
}

// SeriesStarts returns the n session starts of a series beginning at first.
// Steps are whole calendar days in loc, so every session keeps the local
// clock time of the first one across DST changes.
func (c Class) SeriesStarts(first time.Time, n int, loc *time.Location) []time.Time {
	local := first.In(loc)
	starts := make([]time.Time, n)
	for i := range starts {
		starts[i] = local.AddDate(0, 0, i*c.SeriesIntervalDays).UTC()
	}
	return starts
}
