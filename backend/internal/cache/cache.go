// Package cache holds the student grade view cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"school_portal/backend/internal/shared"
)

// GradeViews caches a student's verified grade records per school year.
//
// Views are stored under the student's generation. Invalidate moves the
// generation forward, so a fill that read the generation before an
// invalidation writes a view nobody reads again.
type GradeViews interface {
	// Get returns the cached view and the generation it was looked up
	// under. A negative generation means the cache cannot be used.
	Get(ctx context.Context, studentID, schoolYear string) ([]shared.GradeRecord, int64, bool)
	Set(ctx context.Context, studentID, schoolYear string, gen int64, records []shared.GradeRecord)
	Invalidate(ctx context.Context, studentID string) error
}

// Noop disables caching.
type Noop struct{}

func (Noop) Get(context.Context, string, string) ([]shared.GradeRecord, int64, bool) {
	return nil, -1, false
}
func (Noop) Set(context.Context, string, string, int64, []shared.GradeRecord) {}
func (Noop) Invalidate(context.Context, string) error                         { return nil }

// Redis stores each student's views in one hash keyed by school year, so a
// single DEL invalidates every year of the student.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// New connects to redis. An empty address disables caching; so does an
// unreachable server, which is logged.
func New(ctx context.Context, cfg shared.RedisConfig, logger *zap.Logger) (GradeViews, func() error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, grade view caching disabled")
		return Noop{}, func() error { return nil }
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to connect to redis, grade view caching disabled", zap.Error(err))
		_ = client.Close()
		return Noop{}, func() error { return nil }
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	return NewRedis(client, cfg.TTL, logger), client.Close
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, log: logger}
}

func generationKey(studentID string) string {
	return "grades:student:" + studentID + ":gen"
}

func studentKey(studentID string, gen int64) string {
	return "grades:student:" + studentID + ":v" + strconv.FormatInt(gen, 10)
}

func (c *Redis) generation(ctx context.Context, studentID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(studentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *Redis) Get(ctx context.Context, studentID, schoolYear string) ([]shared.GradeRecord, int64, bool) {
	gen, err := c.generation(ctx, studentID)
	if err != nil {
		c.log.Error("redis GET generation failed", zap.String("student_id", studentID), zap.Error(err))
		return nil, -1, false
	}

	data, err := c.client.HGet(ctx, studentKey(studentID, gen), schoolYear).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error("redis HGET failed", zap.String("student_id", studentID), zap.Error(err))
		}
		return nil, gen, false
	}

	var records []shared.GradeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		c.log.Warn("failed to unmarshal cached grade view", zap.String("student_id", studentID), zap.Error(err))
		return nil, gen, false
	}
	return records, gen, true
}

func (c *Redis) Set(ctx context.Context, studentID, schoolYear string, gen int64, records []shared.GradeRecord) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		c.log.Warn("failed to marshal grade view", zap.Error(err))
		return
	}

	key := studentKey(studentID, gen)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, schoolYear, data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.log.Error("redis HSET failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

// Invalidate bumps the generation and drops the views of the previous one.
func (c *Redis) Invalidate(ctx context.Context, studentID string) error {
	gen, err := c.client.Incr(ctx, generationKey(studentID)).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, studentKey(studentID, gen-1)).Err()
}
