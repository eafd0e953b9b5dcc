// Package analytics records provisioning outcome counts in Redis,
// bucketed by time, for the operator dashboards. Writes are best-effort:
// a Redis failure is logged and never surfaces to the caller.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imutig/phmc-relay/internal/domain"
)

// Config controls bucketing and retention of outcome counters.
type Config struct {
	// Window is the counter bucket width. Default: one hour.
	Window time.Duration

	// Retention is the key TTL. Default: 30 days.
	Retention time.Duration
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
	clock  func() time.Time
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	return &RedisSink{client: client, config: config, clock: time.Now}
}

// Record increments the counter for one kind/outcome pair in the current
// time bucket.
func (s *RedisSink) Record(ctx context.Context, kind domain.RecordKind, outcome string) {
	key := buildKey(string(kind), outcome, s.clock(), s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record %s failed: %v", key, err)
	}
}

func buildKey(kind, outcome string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("relay:%s:%s:%s", kind, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("2006010215")
	}
}
