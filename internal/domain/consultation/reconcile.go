package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/dmac/telehealth/internal/platform/metrics"
)

// Orphan is a booked slot that no live consultation holds.
type Orphan struct {
	ConsultantID uuid.UUID `db:"consultant_id" json:"consultant_id"`
	SlotDate     string    `db:"slot_date" json:"slot_date"`
	StartTime    string    `db:"start_time" json:"start_time"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Class    string   `json:"class"`
	Found    int      `json:"found"`
	Released int      `json:"released"`
	DryRun   bool     `json:"dry_run"`
	Orphans  []Orphan `json:"orphans"`
}

// Reconciler frees slots left booked by a request that died between the
// reservation and the consultation insert. Slots touched within the grace
// period are left alone so in-flight bookings are not raced.
type Reconciler struct {
	db      *sqlx.DB
	class   Class
	grace   time.Duration
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewReconciler(db *sqlx.DB, class Class, grace time.Duration, m *metrics.BookingMetrics, logger zerolog.Logger) *Reconciler {
	mustTable(class.SlotTable)
	mustTable(class.ConsultationTable)
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Reconciler{
		db:      db,
		class:   class,
		grace:   grace,
		metrics: m,
		logger:  logger.With().Str("class", class.Name).Str("component", "reconcile").Logger(),
		now:     time.Now,
	}
}

func (r *Reconciler) cutoff() time.Time {
	return r.now().UTC().Add(-r.grace)
}

// FindOrphans lists booked slots older than the grace period with no
// non-cancelled consultation on their window.
func (r *Reconciler) FindOrphans(ctx context.Context) ([]Orphan, error) {
	query := `
		SELECT s.consultant_id,
			to_char(s.slot_date, 'YYYY-MM-DD') AS slot_date,
			to_char(s.start_time, 'HH24:MI:SS') AS start_time,
			s.updated_at
		FROM ` + r.class.SlotTable + ` s
		WHERE s.is_booked = 1 AND s.updated_at < $1
			AND NOT EXISTS (
				SELECT 1 FROM ` + r.class.ConsultationTable + ` c
				WHERE c.consultant_id = s.consultant_id
					AND c.status <> 5
					AND c.event_start = (s.slot_date + s.start_time) AT TIME ZONE 'UTC'
			)
		ORDER BY s.slot_date, s.start_time`

	var orphans []Orphan
	if err := r.db.SelectContext(ctx, &orphans, query, r.cutoff()); err != nil {
		return nil, fmt.Errorf("find orphaned slots: %w", err)
	}
	return orphans, nil
}

// Run finds orphans and, unless dryRun, releases them in one transaction.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	orphans, err := r.FindOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Class: r.class.Name, Found: len(orphans), DryRun: dryRun, Orphans: orphans}
	if dryRun || len(orphans) == 0 {
		return report, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	// The updated_at guard skips slots re-reserved since they were listed.
	release := `UPDATE ` + r.class.SlotTable + ` SET is_booked = 0, updated_at = NOW()
		WHERE consultant_id = $1 AND slot_date = $2::date AND start_time = $3::time
			AND is_booked = 1 AND updated_at < $4`
	cutoff := r.cutoff()
	for _, o := range orphans {
		res, err := tx.ExecContext(ctx, release, o.ConsultantID, o.SlotDate, o.StartTime, cutoff)
		if err != nil {
			return nil, fmt.Errorf("release orphaned slot %s %s %s: %w", o.ConsultantID, o.SlotDate, o.StartTime, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			report.Released++
			r.logger.Info().Str("consultant_id", o.ConsultantID.String()).
				Str("slot_date", o.SlotDate).Str("start_time", o.StartTime).Msg("released orphaned slot")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	r.metrics.Reconciled(r.class.Name, report.Released)
	return report, nil
}

// Start runs the sweep every interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx, false); err != nil {
					r.logger.Error().Err(err).Msg("reconcile sweep failed")
				}
			}
		}
	}()
}
