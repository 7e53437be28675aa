package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dmac/telehealth/internal/platform/timezone"
)

// Cached is a read-through redis cache in front of a Directory. Redis
// failures fall back to the underlying directory. Profiles without a usable
// timezone are not cached, so a party who fixes theirs can book at once.
type Cached struct {
	next   Directory
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(next Directory, rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func profileKey(id uuid.UUID) string {
	return "directory:profile:" + id.String()
}

func (c *Cached) GetProfile(ctx context.Context, partyID uuid.UUID) (*Profile, error) {
	data, err := c.rdb.Get(ctx, profileKey(partyID)).Bytes()
	switch {
	case err == nil:
		var p Profile
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			return &p, nil
		}
		c.logger.Warn().Str("party_id", partyID.String()).Msg("discarding undecodable cached profile")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("party_id", partyID.String()).Msg("directory cache read failed")
	}

	p, err := c.next.GetProfile(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if _, err := timezone.LoadZone(p.Timezone); err != nil {
		return p, nil
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, profileKey(partyID), data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("party_id", partyID.String()).Msg("directory cache write failed")
		}
	}
	return p, nil
}

func (c *Cached) GetTimezone(ctx context.Context, partyID uuid.UUID) (string, error) {
	p, err := c.GetProfile(ctx, partyID)
	if err != nil {
		return "", err
	}
	return p.Timezone, nil
}
