// Package events announces committed job state transitions to other
// processes. Publishing is best effort and never fails a job step.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"interview-orchestrator/dto"
	"sync"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, event dto.StatusEvent)
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type redisBus struct {
	rdb     *goredis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "interview_status"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBus{rdb: rdb, channel: channel}, nil
}

func (b *redisBus) Publish(ctx context.Context, event dto.StatusEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to encode status event")
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("channel", b.channel).Msg("failed to publish status event")
	}
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}

type nop struct{}

func Nop() Publisher { return nop{} }

func (nop) Publish(context.Context, dto.StatusEvent) {}
func (nop) Close() error                             { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []dto.StatusEvent
}

func (r *Recorder) Publish(_ context.Context, event dto.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []dto.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dto.StatusEvent, len(r.events))
	copy(out, r.events)
	return out
}
