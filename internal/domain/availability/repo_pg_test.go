package availability

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, SlotRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewSlotRepoPG(mock, "expert_slots")
}

var reserveSQL = regexp.QuoteMeta(`UPDATE expert_slots SET is_booked = 1, updated_at = NOW()`) +
	`.*` + regexp.QuoteMeta(`AND is_booked = 0 AND is_slot_available = 1 AND is_day_off = 1`)

func TestSlotRepoPG_TryReserve(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	key := NewSlotKey(consultant, time.Date(2025, 12, 1, 16, 0, 0, 0, time.UTC))

	mock.ExpectExec(reserveSQL).WithArgs(consultant, "2025-12-01", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(reserveSQL).WithArgs(consultant, "2025-12-01", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.TryReserve(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok, "first reservation wins")

	ok, err = repo.TryReserve(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "zero rows is a conflict, not an error")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_TryReserve_UsesUTCCivilKey(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	kolkata, _ := time.LoadLocation("Asia/Kolkata")
	key := NewSlotKey(consultant, time.Date(2025, 12, 2, 2, 0, 0, 0, kolkata))

	mock.ExpectExec(reserveSQL).WithArgs(consultant, "2025-12-01", "20:30:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err := repo.TryReserve(context.Background(), key)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_TryReserve_Error(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	key := NewSlotKey(consultant, time.Date(2025, 12, 1, 16, 0, 0, 0, time.UTC))
	mock.ExpectExec(reserveSQL).WithArgs(consultant, "2025-12-01", "16:00:00").
		WillReturnError(errors.New("connection reset"))

	ok, err := repo.TryReserve(context.Background(), key)
	assert.ErrorContains(t, err, "connection reset")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_Release(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	key := NewSlotKey(consultant, time.Date(2025, 12, 1, 16, 0, 0, 0, time.UTC))

	releaseSQL := regexp.QuoteMeta(`UPDATE expert_slots SET is_booked = 0, updated_at = NOW()`)
	mock.ExpectExec(releaseSQL).WithArgs(consultant, "2025-12-01", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(releaseSQL).WithArgs(consultant, "2025-12-01", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Release(context.Background(), key))
	require.NoError(t, repo.Release(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func slotRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "consultant_id", "slot_date", "start_time", "end_time",
		"offered", "booked", "day_off", "updated_at"})
}

func TestSlotRepoPG_Get(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	start := time.Date(2025, 12, 1, 23, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, consultant_id").WithArgs(consultant, "2025-12-01", "23:00:00").
		WillReturnRows(slotRows().AddRow(int64(7), consultant, "2025-12-01", "23:00:00", "00:00:00", true, false, false, now))

	sl, err := repo.Get(context.Background(), NewSlotKey(consultant, start))
	require.NoError(t, err)
	assert.Equal(t, int64(7), sl.ID)
	assert.True(t, sl.Start.Equal(start))
	assert.True(t, sl.End.Equal(start.Add(time.Hour)), "end past midnight rolls to the next day")
	assert.True(t, sl.Offered)
	assert.False(t, sl.DayOff)
}

func TestSlotRepoPG_Get_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	mock.ExpectQuery("SELECT id, consultant_id").WithArgs(consultant, "2025-12-01", "09:00:00").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), NewSlotKey(consultant, time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_ListBetween(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	from := time.Date(2025, 11, 30, 18, 30, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, consultant_id").
		WithArgs(consultant, "2025-11-30 18:30:00", "2025-12-01 18:30:00").
		WillReturnRows(slotRows().
			AddRow(int64(1), consultant, "2025-12-01", "16:00:00", "17:00:00", true, false, false, now).
			AddRow(int64(2), consultant, "2025-12-01", "17:00:00", "18:00:00", true, true, false, now))

	slots, err := repo.ListBetween(context.Background(), consultant, from, to)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[1].Booked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_Upsert(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	start := time.Date(2025, 12, 1, 16, 0, 0, 0, time.UTC)

	upsertSQL := regexp.QuoteMeta("INSERT INTO expert_slots") + ".*" + regexp.QuoteMeta("WHERE expert_slots.is_booked = 0")
	mock.ExpectExec(upsertSQL).WithArgs(consultant, "2025-12-01", "16:00:00", "17:00:00", int16(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsertSQL).WithArgs(consultant, "2025-12-01", "17:00:00", "18:00:00", int16(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	entries := WeeklyEntry{Start: start, End: start.Add(2 * time.Hour), IsAvailable: true}.Hourly()
	n, err := repo.Upsert(context.Background(), consultant, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "booked slot is not counted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSlotRepoPG_SetDayOff_InvertsFlag(t *testing.T) {
	mock, repo := newMockRepo(t)
	consultant := uuid.New()
	from := time.Date(2025, 12, 1, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE expert_slots SET is_day_off = $4")).
		WithArgs(consultant, "2025-12-01 06:00:00", "2025-12-02 06:00:00", int16(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.SetDayOff(context.Background(), consultant, from, from.Add(24*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSlotRepoPG_RejectsBadTable(t *testing.T) {
	assert.Panics(t, func() { NewSlotRepoPG(nil, "slots; DROP TABLE x") })
}
