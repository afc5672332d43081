package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/queue"
)

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	// Size is the number of concurrent consumers.
	Size int
	// DrainTimeout bounds how long an in-flight message may keep running
	// after shutdown begins.
	DrainTimeout time.Duration
}

// Pool runs a fixed set of consumers against the queue.
type Pool struct {
	handler *Handler
	cfg     PoolConfig
	logger  *observability.Logger
}

// NewPool creates a Pool.
func NewPool(handler *Handler, cfg PoolConfig, logger *observability.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 60 * time.Second
	}
	return &Pool{handler: handler, cfg: cfg, logger: logger}
}

// Run blocks consuming messages until ctx is canceled, then drains in-flight
// work. Un-ACK'd messages redeliver via the visibility timeout.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("pool_size", p.cfg.Size).Msg("Worker pool starting")

	g := &errgroup.Group{}
	for i := 0; i < p.cfg.Size; i++ {
		worker := i
		g.Go(func() error {
			return p.consume(ctx, worker)
		})
	}
	err := g.Wait()
	p.logger.Info().Msg("Worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, worker int) error {
	log := p.logger.WithComponent("worker")
	log.Debug().Int("worker_id", worker).Msg("Worker loop started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := p.handler.queue.Receive(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Queue receive failed")
			continue
		}

		// A message already received gets its drain window even when
		// shutdown starts mid-flight.
		msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
		if err := p.handler.Handle(msgCtx, msg); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Message processing failed")
		}
		cancel()
	}
}
