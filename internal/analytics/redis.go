package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink keeps the day counters in the shared Redis so reporting
// sees every instance's traffic. Counter keys are never expired; the
// reporting range query needs past days intact.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(redisURL string) (*RedisSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisSink{client: redis.NewClient(opt)}, nil
}

func (s *RedisSink) Record(ctx context.Context, ev Event) error {
	day, tenant := ev.Day, ev.TenantID
	pipe := s.client.Pipeline()

	pipe.Incr(ctx, fmt.Sprintf("metrics:%s:%d:count", day, tenant))
	pipe.IncrBy(ctx, fmt.Sprintf("metrics:%s:%d:tokens", day, tenant), int64(ev.Tokens))
	pipe.IncrByFloat(ctx, fmt.Sprintf("metrics:%s:%d:cost", day, tenant), ev.CostJPY)
	if ev.ClientID != "" {
		pipe.PFAdd(ctx, fmt.Sprintf("hll:%s:%d", day, tenant), ev.ClientID)
	}
	docsField := "zero_hit"
	if ev.Hit {
		docsField = "hit"
	}
	pipe.HIncrBy(ctx, fmt.Sprintf("docs:%s:%d", day, tenant), docsField, 1)
	for _, id := range ev.UsedChunks {
		pipe.HIncrBy(ctx, fmt.Sprintf("docs_top:%s:%d", day, tenant), id, 1)
	}

	entry, err := json.Marshal(map[string]any{
		"ts":            time.Now().Unix(),
		"ip":            ev.IP,
		"key_hash":      ev.KeyHash,
		"question_hash": ev.QuestionHash,
		"tokens":        ev.Tokens,
		"cost_jpy":      ev.CostJPY,
		"hit":           ev.Hit,
	})
	if err == nil {
		eventsKey := fmt.Sprintf("events:%d", tenant)
		pipe.LPush(ctx, eventsKey, entry)
		pipe.LTrim(ctx, eventsKey, 0, recentEventsCap-1)
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) RecordFeedback(ctx context.Context, tenantID int, day string, resolved bool) error {
	field := "no"
	if resolved {
		field = "yes"
	}
	return s.client.HIncrBy(ctx, fmt.Sprintf("feedback:%s:%d", day, tenantID), field, 1).Err()
}

func (s *RedisSink) DaySnapshot(ctx context.Context, tenantID int, day string) (DaySnapshot, error) {
	var snap DaySnapshot

	count, err := s.getInt(ctx, fmt.Sprintf("metrics:%s:%d:count", day, tenantID))
	if err != nil {
		return snap, err
	}
	snap.Questions = count

	snap.Tokens, _ = s.getInt(ctx, fmt.Sprintf("metrics:%s:%d:tokens", day, tenantID))
	snap.CostJPY, _ = s.getFloat(ctx, fmt.Sprintf("metrics:%s:%d:cost", day, tenantID))
	snap.UniqueUsers, _ = s.client.PFCount(ctx, fmt.Sprintf("hll:%s:%d", day, tenantID)).Result()

	docs, _ := s.client.HGetAll(ctx, fmt.Sprintf("docs:%s:%d", day, tenantID)).Result()
	snap.Hits = parseInt(docs["hit"])
	snap.ZeroHits = parseInt(docs["zero_hit"])

	fb, _ := s.client.HGetAll(ctx, fmt.Sprintf("feedback:%s:%d", day, tenantID)).Result()
	snap.FeedbackYes = parseInt(fb["yes"])
	snap.FeedbackNo = parseInt(fb["no"])

	top, _ := s.client.HGetAll(ctx, fmt.Sprintf("docs_top:%s:%d", day, tenantID)).Result()
	snap.TopChunks = make(map[string]int64, len(top))
	for k, v := range top {
		snap.TopChunks[k] = parseInt(v)
	}
	return snap, nil
}

func (s *RedisSink) getInt(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (s *RedisSink) getFloat(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
