// Package dispatcher schedules job messages for background execution and
// guarantees that at most one run per (entity, kind) is active at a time.
package dispatcher

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"math"
	"sync"
)

var (
	// ErrJobActive is returned when a run for the same job, with the same or a
	// newer generation, is already queued or running.
	ErrJobActive = errors.New("job already active")
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type Handler func(ctx context.Context, msg dto.JobMessage) error

// Transport moves messages from Submit to the delivery callback. Run blocks
// until ctx is done.
type Transport interface {
	Publish(ctx context.Context, msg dto.JobMessage) error
	Run(ctx context.Context, deliver Handler) error
}

type slot struct {
	generation int64
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	started    bool
	finished   bool
	prev       *slot
}

func (s *slot) finish() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

type Dispatcher struct {
	base      context.Context
	transport Transport
	handler   Handler

	mu    sync.Mutex
	slots map[entities.JobKey]*slot
	wg    sync.WaitGroup
}

// New builds a dispatcher whose runs derive from base, never from the
// context of the caller that submitted them.
func New(base context.Context, transport Transport, handler Handler) *Dispatcher {
	return &Dispatcher{
		base:      base,
		transport: transport,
		handler:   handler,
		slots:     map[entities.JobKey]*slot{},
	}
}

func keyOf(msg dto.JobMessage) entities.JobKey {
	return entities.JobKey{EntityID: msg.EntityID, Kind: msg.Kind}
}

// Run consumes the transport until the base context is done, then waits for
// in-flight runs.
func (d *Dispatcher) Run() error {
	err := d.transport.Run(d.base, d.execute)
	d.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Submit claims the job's slot and hands the message to the transport. It
// does not wait for the work.
func (d *Dispatcher) Submit(ctx context.Context, msg dto.JobMessage) error {
	if d.base.Err() != nil {
		return ErrStopped
	}
	key := keyOf(msg)

	d.mu.Lock()
	current := d.slots[key]
	if current != nil && !current.finished && current.generation >= msg.Generation {
		d.mu.Unlock()
		return ErrJobActive
	}
	s := d.claim(key, msg.Generation, current)
	d.mu.Unlock()

	if err := d.transport.Publish(ctx, msg); err != nil {
		d.mu.Lock()
		s.cancel()
		s.finish()
		if d.slots[key] == s {
			d.restore(key, s)
		}
		d.mu.Unlock()
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("job", key.String()).Int64("generation", msg.Generation).Msg("job submitted")
	return nil
}

// claim must be called with mu held. A superseded predecessor is cancelled
// and chained so the new run can wait for it.
func (d *Dispatcher) claim(key entities.JobKey, generation int64, current *slot) *slot {
	ctx, cancel := context.WithCancel(d.base)
	s := &slot{generation: generation, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	if current != nil && !current.finished {
		current.cancel()
		s.prev = current
	}
	d.slots[key] = s
	return s
}

// restore drops s from the map, falling back to an unfinished predecessor.
func (d *Dispatcher) restore(key entities.JobKey, s *slot) {
	if s.prev != nil && !s.prev.finished {
		d.slots[key] = s.prev
		return
	}
	delete(d.slots, key)
}

// find returns the slot claimed for exactly this generation, if any.
func (d *Dispatcher) find(key entities.JobKey, generation int64) *slot {
	for s := d.slots[key]; s != nil; s = s.prev {
		if s.generation == generation {
			return s
		}
	}
	return nil
}

// execute is the transport's delivery callback.
func (d *Dispatcher) execute(ctx context.Context, msg dto.JobMessage) error {
	key := keyOf(msg)
	logger := zerolog.Ctx(d.base).With().Str("job", key.String()).Int64("generation", msg.Generation).Logger()

	d.mu.Lock()
	s := d.find(key, msg.Generation)
	switch {
	case s == nil:
		current := d.slots[key]
		if current != nil && !current.finished && current.generation > msg.Generation {
			d.mu.Unlock()
			logger.Info().Msg("dropping superseded job message")
			return nil
		}
		if current != nil && !current.finished && current.generation == msg.Generation {
			d.mu.Unlock()
			logger.Info().Msg("dropping duplicate job message")
			return nil
		}
		// delivered without a local claim, e.g. after a restart
		s = d.claim(key, msg.Generation, current)
	case s.started || s.finished:
		d.mu.Unlock()
		logger.Info().Msg("dropping duplicate job message")
		return nil
	}
	s.started = true
	waits := running(s.prev)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	defer d.release(key, s)

	for _, done := range waits {
		select {
		case <-done:
		case <-s.ctx.Done():
		}
	}
	if s.ctx.Err() != nil {
		logger.Info().Msg("job cancelled before start")
		return nil
	}

	runCtx := logger.WithContext(s.ctx)
	return d.handler(runCtx, msg)
}

// running must be called with mu held. It collects the runs in the chain that
// have started and not yet released. A slot that has not started by now is
// already cancelled and never reaches the handler.
func running(s *slot) []chan struct{} {
	var waits []chan struct{}
	for ; s != nil; s = s.prev {
		if s.started && !s.finished {
			waits = append(waits, s.done)
		}
	}
	return waits
}

func (d *Dispatcher) release(key entities.JobKey, s *slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.cancel()
	s.finish()
	s.prev = nil
	if d.slots[key] == s {
		delete(d.slots, key)
	}
}

// RunExclusive runs fn under the job's slot if nothing else holds it. It
// reports false without calling fn when the slot is busy. fn's context derives
// from the dispatcher, and is also cancelled when ctx is.
func (d *Dispatcher) RunExclusive(ctx context.Context, key entities.JobKey, generation int64, fn func(ctx context.Context) error) (bool, error) {
	if d.base.Err() != nil {
		return false, ErrStopped
	}

	d.mu.Lock()
	if current := d.slots[key]; current != nil && !current.finished {
		d.mu.Unlock()
		return false, nil
	}
	s := d.claim(key, generation, nil)
	s.started = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	defer d.release(key, s)

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	runCtx := zerolog.Ctx(d.base).With().Str("job", key.String()).Logger().WithContext(s.ctx)
	return true, fn(runCtx)
}

// Preempt cancels whatever holds key, waits until every started run has
// released and then runs fn under the slot. Messages for key delivered while
// fn runs are dropped as superseded. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Preempt(ctx context.Context, key entities.JobKey, fn func(ctx context.Context) error) error {
	if d.base.Err() != nil {
		return ErrStopped
	}

	d.mu.Lock()
	current := d.slots[key]
	for p := current; p != nil; p = p.prev {
		p.cancel()
	}
	waits := running(current)
	s := d.claim(key, math.MaxInt64, current)
	s.started = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	defer d.release(key, s)

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	for _, done := range waits {
		select {
		case <-done:
		case <-s.ctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrStopped
		}
	}

	runCtx := zerolog.Ctx(d.base).With().Str("job", key.String()).Logger().WithContext(s.ctx)
	return fn(runCtx)
}

// Cancel stops any queued or running work for key. Its messages are dropped
// on delivery.
func (d *Dispatcher) Cancel(key entities.JobKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for s := d.slots[key]; s != nil; s = s.prev {
		s.cancel()
	}
}

// Active reports whether key currently has a queued or running claim.
func (d *Dispatcher) Active(key entities.JobKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.slots[key]
	return s != nil && !s.finished
}
