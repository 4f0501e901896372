package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces checkpoint hashes.
const RedisKeyPrefix = "fairing:checkpoint:"

// saveScript writes the hash unless the stored cursor is already ahead.
var saveScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'last_id') or '0')
if cur > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'last_id', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// RedisStore keeps each stream's state in a hash with last_id and
// updated_at fields.
type RedisStore struct {
	redis *redis.Client
	owned bool
}

// NewRedisStore uses an existing client. Close leaves it open.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// OpenRedisStore connects to a redis:// URL.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{redis: client, owned: true}, nil
}

func redisKey(stream string) string {
	return RedisKeyPrefix + stream
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, stream string) (State, error) {
	fields, err := r.redis.HGetAll(ctx, redisKey(stream)).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis hgetall: %w", err)
	}
	state := State{Stream: stream}
	if len(fields) == 0 {
		return state, nil
	}

	if v := fields["last_id"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("parse stored last_id %q: %w", v, err)
		}
		state.LastID = fairing.RecordID(n)
	}
	if v := fields["updated_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return State{}, fmt.Errorf("parse stored updated_at %q: %w", v, err)
		}
		state.UpdatedAt = t
	}
	return state, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, state State) error {
	if err := validStream(state.Stream); err != nil {
		return err
	}
	written, err := saveScript.Run(ctx, r.redis,
		[]string{redisKey(state.Stream)},
		state.LastID.String(),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		savesTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("redis save checkpoint: %w", err)
	}
	if written == 0 {
		savesTotal.WithLabelValues("redis", "stale").Inc()
		return fmt.Errorf("%w: stream %s, saving %d", ErrStaleState, state.Stream, state.LastID)
	}
	savesTotal.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, stream string) error {
	if err := r.redis.Del(ctx, redisKey(stream)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements Store. Clients passed to NewRedisStore stay open.
func (r *RedisStore) Close() error {
	if r.owned {
		return r.redis.Close()
	}
	return nil
}
