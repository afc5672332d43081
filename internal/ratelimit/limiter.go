// Package ratelimit gates AI provider calls with separate chat and embedding
// token buckets.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// MinQPS is the floor applied to both buckets. Configured rates below it are
// raised, never rejected.
const MinQPS = 0.1

// Config holds the two bucket rates in queries per second.
type Config struct {
	ChatQPS  float64
	EmbedQPS float64
}

// Limiter holds independent chat and embedding token buckets. One AI call
// consumes exactly one permit; batching never shares a permit.
type Limiter struct {
	chat  *rate.Limiter
	embed *rate.Limiter
}

// New creates a Limiter, applying the minimum rate floor.
func New(cfg Config) *Limiter {
	return &Limiter{
		chat:  rate.NewLimiter(rate.Limit(clampQPS(cfg.ChatQPS)), 1),
		embed: rate.NewLimiter(rate.Limit(clampQPS(cfg.EmbedQPS)), 1),
	}
}

// AcquireChat blocks until a chat permit is available or ctx is done.
func (l *Limiter) AcquireChat(ctx context.Context) error {
	return l.chat.Wait(ctx)
}

// AcquireEmbed blocks until an embedding permit is available or ctx is done.
func (l *Limiter) AcquireEmbed(ctx context.Context) error {
	return l.embed.Wait(ctx)
}

// ChatQPS returns the effective chat rate.
func (l *Limiter) ChatQPS() float64 {
	return float64(l.chat.Limit())
}

// EmbedQPS returns the effective embedding rate.
func (l *Limiter) EmbedQPS() float64 {
	return float64(l.embed.Limit())
}

func clampQPS(qps float64) float64 {
	if qps < MinQPS {
		return MinQPS
	}
	return qps
}
