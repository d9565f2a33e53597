package dispatcher

import (
	"context"
	"github.com/rs/zerolog"
	"interview-orchestrator/dto"
	"sync"
)

type memoryTransport struct {
	queue   chan dto.JobMessage
	workers int
}

// NewMemoryTransport queues messages in process. Publish fails with
// ErrQueueFull instead of blocking when the buffer is full.
func NewMemoryTransport(buffer, workers int) Transport {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &memoryTransport{queue: make(chan dto.JobMessage, buffer), workers: workers}
}

func (t *memoryTransport) Publish(ctx context.Context, msg dto.JobMessage) error {
	select {
	case t.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (t *memoryTransport) Run(ctx context.Context, deliver Handler) error {
	zerolog.Ctx(ctx).Info().Int("workers", t.workers).Msg("memory dispatcher started")

	var wg sync.WaitGroup
	for i := 1; i <= t.workers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-t.queue:
					if err := deliver(ctx, msg); err != nil {
						zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Str("kind", string(msg.Kind)).
							Str("job_id", msg.EntityID.String()).Msg("job failed")
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}
