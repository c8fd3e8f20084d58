package admission

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// addCostScript is the ledger's atomic read-modify-write: reject when
// the add would cross the ceiling, otherwise increment and arm the
// midnight expiry on the entry it just created. Running it as one
// script is what prevents lost updates when requests settle
// concurrently.
var addCostScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])
if ceiling > 0 and current + amount > ceiling then
  return {0, tostring(current)}
end
local created = redis.call('EXISTS', KEYS[1]) == 0
local total = redis.call('INCRBYFLOAT', KEYS[1], amount)
if created then
  redis.call('EXPIREAT', KEYS[1], tonumber(ARGV[3]))
end
return {1, total}
`)

// RedisStore backs admission state with a shared Redis, giving
// cluster-wide windows and ledgers.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		s.client.Expire(ctx, key, window)
	}
	return count, nil
}

func (s *RedisStore) ReadCost(ctx context.Context, key DayKey) (float64, error) {
	val, err := s.client.Get(ctx, key.String()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

func (s *RedisStore) AddCost(ctx context.Context, key DayKey, amount, ceiling float64, expireAt time.Time) (bool, float64, error) {
	res, err := addCostScript.Run(ctx, s.client, []string{key.String()},
		amount, ceiling, expireAt.Unix()).Slice()
	if err != nil {
		return false, 0, err
	}
	committed := res[0].(int64) == 1
	total, err := strconv.ParseFloat(res[1].(string), 64)
	if err != nil {
		return false, 0, err
	}
	return committed, total, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
