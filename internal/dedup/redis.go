package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentryhq/ueba/internal/models"
)

const (
	fingerprintKeyPrefix = "ueba:fp:"
	fingerprintTTL       = 7 * 24 * time.Hour
)

// touchScript records the occurrence and returns the previous last-seen
// unix timestamp (-1 for a first sighting) along with the escalated flag.
// Running as one script keeps the check-then-update atomic per hash key.
var touchScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local prev = redis.call('HGET', key, 'last_seen')
local escalated = redis.call('HGET', key, 'escalated')
if prev then
    redis.call('HSET', key, 'last_seen', now)
    redis.call('HINCRBY', key, 'count', 1)
else
    redis.call('HSET', key, 'last_seen', now, 'first_seen', now, 'count', 1,
        'user_id', ARGV[2], 'category', ARGV[3], 'escalated', 0)
end
redis.call('PEXPIRE', key, ARGV[4])
if prev then
    return {prev, escalated}
end
return {'-1', '0'}
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps fingerprints in Redis so suppression state is shared
// across server instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Touch(ctx context.Context, fp *models.AnomalyFingerprint) (*time.Time, bool, error) {
	key := fingerprintKeyPrefix + fp.Hash

	res, err := touchScript.Run(ctx, s.client, []string{key},
		strconv.FormatInt(fp.LastSeen.UnixMilli(), 10),
		fp.UserID,
		fp.Category,
		strconv.FormatInt(fingerprintTTL.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("running touch script: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected touch result %v", res)
	}

	prevStr, _ := res[0].(string)
	escStr, _ := res[1].(string)

	prev, err := strconv.ParseInt(prevStr, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parsing touch result %q: %w", prevStr, err)
	}
	escalated := escStr == "1"
	if prev < 0 {
		return nil, escalated, nil
	}

	t := time.UnixMilli(prev)
	return &t, escalated, nil
}

func (s *RedisStore) MarkEscalated(ctx context.Context, hash string) error {
	key := fingerprintKeyPrefix + hash
	if err := s.client.HSet(ctx, key, "escalated", 1).Err(); err != nil {
		return fmt.Errorf("marking fingerprint escalated: %w", err)
	}
	return nil
}
