package consultation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/platform/db"
	"github.com/dmac/telehealth/internal/platform/metrics"
)

// TestReschedule_PG_FailedUpdateRollsBackSlotMoves runs a reschedule against
// the Postgres repositories and checks that the slot reserve and release are
// undone when the consultation update fails.
func TestReschedule_PG_FailedUpdateRollsBackSlotMoves(t *testing.T) {
	f := newFixture(t, Expert)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	svc := NewService(Expert, Deps{
		Slots:     availability.NewSlotRepoPG(mock, "expert_slots"),
		Repo:      NewRepoPG(mock, "expert_consultations"),
		IDs:       &seqIDs{},
		Tx:        db.NewTxRunner(mock),
		Directory: f.dir,
		Calendar:  f.cal,
		Metrics:   metrics.NewBookingMetrics(prometheus.NewRegistry()),
		Logger:    zerolog.Nop(),
	})
	svc.now = func() time.Time { return fixedNow }

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM expert_consultations WHERE consultation_id = \$1`).
		WithArgs("CONUNEX000042").
		WillReturnRows(consultationRows().AddRow(uuid.New(), "CONUNEX000042", f.user.ID, f.consultant.ID, "plan-basic",
			"2025-12-01 16:00:00", "2025-12-01 17:00:00", "America/Chicago", "Asia/Kolkata", "2025-12-01",
			int16(StatusAccepted), "", "", "", "", "", 0, now, now))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE expert_slots SET is_booked = 1`).
		WithArgs(f.consultant.ID, "2025-12-02", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE expert_slots SET is_booked = 0`).
		WithArgs(f.consultant.ID, "2025-12-01", "16:00:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE expert_consultations SET event_start = \$2`).
		WithArgs("CONUNEX000042", pgxmock.AnyArg(), pgxmock.AnyArg(), "2025-12-02", int16(StatusRescheduled)).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = svc.Reschedule(context.Background(), RescheduleRequest{
		Code: "CONUNEX000042", Date: "2025-12-02", StartTime: "10:00",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInternal))
	assert.ErrorContains(t, err, "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, f.cal.patched)
}
