package consultation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"

	"github.com/dmac/telehealth/internal/platform/db"
)

const (
	idStem       = "CON"
	counterWidth = 6
	maxCounter   = 999999
)

// Prefix builds the code prefix: CON, the first two letters of country in
// upper case (XX when there are fewer) and the class type code.
func Prefix(country string, c Class) string {
	var letters []rune
	for _, r := range country {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			letters = append(letters, unicode.ToUpper(r))
			if len(letters) == 2 {
				break
			}
		}
	}
	cc := "XX"
	if len(letters) == 2 {
		cc = string(letters)
	}
	return idStem + cc + c.TypeCode
}

// NextID returns the code following latest under prefix. An empty latest
// starts the sequence at 1.
func NextID(latest, prefix string) (string, error) {
	n := 0
	if latest != "" {
		if !strings.HasPrefix(latest, prefix) {
			return "", fmt.Errorf("code %q does not carry prefix %q", latest, prefix)
		}
		counter := latest[len(prefix):]
		v, err := strconv.Atoi(counter)
		if err != nil || len(counter) != counterWidth {
			return "", fmt.Errorf("code %q has a malformed counter", latest)
		}
		n = v
	}
	if n >= maxCounter {
		return "", fmt.Errorf("counter for prefix %q exhausted", prefix)
	}
	return fmt.Sprintf("%s%0*d", prefix, counterWidth, n+1), nil
}

// IDSource hands out consultation codes.
type IDSource interface {
	Generate(ctx context.Context, prefix string) (string, error)
}

// IDGenerator reads the highest code of a prefix and increments it. It must
// run inside the insert transaction: the advisory lock it takes serializes
// generation per prefix until that transaction ends.
type IDGenerator struct {
	pool  db.Querier
	table string
}

func NewIDGenerator(pool db.Querier, table string) *IDGenerator {
	mustTable(table)
	return &IDGenerator{pool: pool, table: table}
}

func (g *IDGenerator) Generate(ctx context.Context, prefix string) (string, error) {
	conn := db.Conn(ctx, g.pool)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, g.table+":"+prefix); err != nil {
		return "", fmt.Errorf("lock id prefix %s: %w", prefix, err)
	}

	var latest string
	err := conn.QueryRow(ctx, `SELECT consultation_id FROM `+g.table+`
		WHERE consultation_id LIKE $1 ORDER BY consultation_id DESC LIMIT 1`, prefix+"%").Scan(&latest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("read latest id for %s: %w", prefix, err)
	}
	return NextID(latest, prefix)
}
