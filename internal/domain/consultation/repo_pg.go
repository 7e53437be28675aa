package consultation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmac/telehealth/internal/platform/db"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func mustTable(table string) {
	if !tableNamePattern.MatchString(table) {
		panic(fmt.Sprintf("consultation: invalid table name %q", table))
	}
}

const storedTimeLayout = "2006-01-02 15:04:05"

type repoPG struct {
	pool  db.Querier
	table string
}

func NewRepoPG(pool db.Querier, table string) Repository {
	mustTable(table)
	return &repoPG{pool: pool, table: table}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Event times are read back as UTC text so no session offset is applied.
const consultationCols = `id, consultation_id, user_id, consultant_id, product_id,
	COALESCE(to_char(event_start AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI:SS'), ''),
	COALESCE(to_char(event_end AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI:SS'), ''),
	user_timezone, consultant_timezone, COALESCE(consultation_date, ''), status,
	COALESCE(meet_link, ''), COALESCE(consultation_notes, ''),
	COALESCE(consultant_event_id, ''), COALESCE(user_event_id, ''),
	COALESCE(series_id::text, ''), COALESCE(session_number, 0)::int, created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var start, end, seriesID string
	var status int16
	err := row.Scan(&c.ID, &c.Code, &c.UserID, &c.ConsultantID, &c.ProductID,
		&start, &end, &c.UserTimezone, &c.ConsultantTimezone, &c.ConsultationDate, &status,
		&c.MeetLink, &c.Notes, &c.ConsultantEventID, &c.UserEventID,
		&seriesID, &c.SessionNumber, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if c.EventStart, err = parseStored(start); err != nil {
		return nil, err
	}
	if c.EventEnd, err = parseStored(end); err != nil {
		return nil, err
	}
	if seriesID != "" {
		id, err := uuid.Parse(seriesID)
		if err != nil {
			return nil, fmt.Errorf("parse series id: %w", err)
		}
		c.SeriesID = &id
	}
	return &c, nil
}

func parseStored(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(storedTimeLayout, v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse stored time %q: %w", v, err)
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var session *int16
	if c.SessionNumber > 0 {
		n := int16(c.SessionNumber)
		session = &n
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+r.table+` (id, consultation_id, user_id, consultant_id, product_id,
			event_start, event_end, user_timezone, consultant_timezone, consultation_date, status,
			meet_link, consultant_event_id, user_event_id, series_id, session_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		c.ID, c.Code, c.UserID, c.ConsultantID, c.ProductID,
		c.EventStart, c.EventEnd, c.UserTimezone, c.ConsultantTimezone, nullable(c.ConsultationDate), int16(c.Status),
		nullable(c.MeetLink), nullable(c.ConsultantEventID), nullable(c.UserEventID), c.SeriesID, session,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert consultation %s: %w", c.Code, err)
	}
	return nil
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM `+r.table+` WHERE consultation_id = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation %s: %w", code, err)
	}
	return c, nil
}

// exec runs a single-row update and reports ErrNotFound when nothing matched.
func (r *repoPG) exec(ctx context.Context, code, query string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update consultation %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Reschedule(ctx context.Context, code string, start, end time.Time, localDate string) error {
	return r.exec(ctx, code, `
		UPDATE `+r.table+` SET event_start = $2, event_end = $3, consultation_date = $4,
			status = $5, updated_at = NOW()
		WHERE consultation_id = $1`,
		code, start.UTC(), end.UTC(), localDate, int16(StatusRescheduled))
}

func (r *repoPG) Cancel(ctx context.Context, code string) error {
	return r.exec(ctx, code, `
		UPDATE `+r.table+` SET status = $2, event_start = NULL, event_end = NULL, updated_at = NOW()
		WHERE consultation_id = $1`,
		code, int16(StatusCancelled))
}

func (r *repoPG) UpdateStatus(ctx context.Context, code string, status Status, notes *string) error {
	return r.exec(ctx, code, `
		UPDATE `+r.table+` SET status = $2, consultation_notes = COALESCE($3, consultation_notes), updated_at = NOW()
		WHERE consultation_id = $1`,
		code, int16(status), notes)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Consultation, int, error) {
	var where []string
	var args []interface{}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ConsultantID != nil {
		args = append(args, *f.ConsultantID)
		where = append(where, fmt.Sprintf("consultant_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+r.table+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY event_start DESC NULLS LAST, created_at DESC LIMIT $%d OFFSET $%d`,
		consultationCols, r.table, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
