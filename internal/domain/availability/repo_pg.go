package availability

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmac/telehealth/internal/platform/db"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const timestampLayout = "2006-01-02 15:04:05"

type slotRepoPG struct {
	pool  db.Querier
	table string
}

// NewSlotRepoPG returns a SlotRepository over table. The table name is
// interpolated into SQL and must be a plain lowercase identifier.
func NewSlotRepoPG(pool db.Querier, table string) SlotRepository {
	if !tableNamePattern.MatchString(table) {
		panic(fmt.Sprintf("availability: invalid slot table name %q", table))
	}
	return &slotRepoPG{pool: pool, table: table}
}

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Dates and times are read back as text so no session offset is applied.
const slotCols = `id, consultant_id, to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI:SS'),
	to_char(end_time, 'HH24:MI:SS'), is_slot_available = 1, is_booked = 1, is_day_off = 0, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date, start, end string
	if err := row.Scan(&s.ID, &s.ConsultantID, &date, &start, &end,
		&s.Offered, &s.Booked, &s.DayOff, &s.UpdatedAt); err != nil {
		return nil, err
	}
	startAt, err := timezone.ParseCivil(date, start, time.UTC)
	if err != nil {
		return nil, err
	}
	endAt, err := timezone.ParseCivil(date, end, time.UTC)
	if err != nil {
		return nil, err
	}
	if !endAt.After(startAt) {
		endAt = endAt.AddDate(0, 0, 1)
	}
	s.Start = startAt
	s.End = endAt
	return &s, nil
}

func (r *slotRepoPG) TryReserve(ctx context.Context, key SlotKey) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+r.table+` SET is_booked = 1, updated_at = NOW()
		WHERE consultant_id = $1 AND slot_date = $2::date AND start_time = $3::time
			AND is_booked = 0 AND is_slot_available = 1 AND is_day_off = 1`,
		key.ConsultantID, key.Date(), key.Clock())
	if err != nil {
		return false, fmt.Errorf("reserve slot %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, key SlotKey) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+r.table+` SET is_booked = 0, updated_at = NOW()
		WHERE consultant_id = $1 AND slot_date = $2::date AND start_time = $3::time`,
		key.ConsultantID, key.Date(), key.Clock())
	if err != nil {
		return fmt.Errorf("release slot %s: %w", key, err)
	}
	return nil
}

func (r *slotRepoPG) Upsert(ctx context.Context, consultantID uuid.UUID, entries []WeeklyEntry) (int, error) {
	// A booked slot keeps its offering untouched.
	query := `
		INSERT INTO ` + r.table + ` (consultant_id, slot_date, start_time, end_time, is_slot_available, is_day_off)
		VALUES ($1, $2::date, $3::time, $4::time, $5, 1)
		ON CONFLICT (consultant_id, slot_date, start_time) DO UPDATE
			SET end_time = EXCLUDED.end_time, is_slot_available = EXCLUDED.is_slot_available,
				is_day_off = 1, updated_at = NOW()
			WHERE ` + r.table + `.is_booked = 0`

	n := 0
	for _, e := range entries {
		key := NewSlotKey(consultantID, e.Start)
		_, endClock := timezone.SplitUTC(e.End)
		tag, err := r.conn(ctx).Exec(ctx, query,
			consultantID, key.Date(), key.Clock(), endClock, boolToFlag(e.IsAvailable))
		if err != nil {
			return n, fmt.Errorf("upsert slot %s: %w", key, err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

func (r *slotRepoPG) Get(ctx context.Context, key SlotKey) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM `+r.table+`
		WHERE consultant_id = $1 AND slot_date = $2::date AND start_time = $3::time`,
		key.ConsultantID, key.Date(), key.Clock()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return s, err
}

func (r *slotRepoPG) ListByConsultant(ctx context.Context, consultantID uuid.UUID) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM `+r.table+`
		WHERE consultant_id = $1 ORDER BY slot_date, start_time`, consultantID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) ListBetween(ctx context.Context, consultantID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM `+r.table+`
		WHERE consultant_id = $1
			AND (slot_date + start_time) >= $2::timestamp AND (slot_date + start_time) < $3::timestamp
		ORDER BY slot_date, start_time`,
		consultantID, from.UTC().Format(timestampLayout), to.UTC().Format(timestampLayout))
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) SetDayOff(ctx context.Context, consultantID uuid.UUID, from, to time.Time, dayOff bool) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+r.table+` SET is_day_off = $4, updated_at = NOW()
		WHERE consultant_id = $1
			AND (slot_date + start_time) >= $2::timestamp AND (slot_date + start_time) < $3::timestamp`,
		consultantID, from.UTC().Format(timestampLayout), to.UTC().Format(timestampLayout), boolToFlag(!dayOff))
	if err != nil {
		return 0, fmt.Errorf("set day off: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) SetOffered(ctx context.Context, key SlotKey, offered bool) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+r.table+` SET is_slot_available = $4, updated_at = NOW()
		WHERE consultant_id = $1 AND slot_date = $2::date AND start_time = $3::time AND is_booked = 0`,
		key.ConsultantID, key.Date(), key.Clock(), boolToFlag(offered))
	if err != nil {
		return false, fmt.Errorf("set slot offering: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func boolToFlag(b bool) int16 {
	if b {
		return 1
	}
	return 0
}
