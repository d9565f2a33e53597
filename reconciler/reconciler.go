// Package reconciler advances jobs that are waiting on a provider and
// recovers jobs left behind by restarts or lost messages.
package reconciler

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"interview-orchestrator/constant"
	"interview-orchestrator/dispatcher"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/repository"
	"interview-orchestrator/service"
	"time"
)

type Config struct {
	PollInterval    time.Duration
	MinPollInterval time.Duration
	StaleAfter      time.Duration
	BatchSize       int
	SpoolDir        string
	SpoolMaxAge     time.Duration
	// SubmitOnly hands every due job to the guard's Submit instead of
	// polling in place. Set it when the sweep runs outside the process that
	// owns the dispatcher, whose slots a local RunExclusive cannot see.
	SubmitOnly bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Second,
		MinPollInterval: 5 * time.Second,
		StaleAfter:      2 * time.Minute,
		BatchSize:       50,
		SpoolMaxAge:     24 * time.Hour,
	}
}

// Guard is the part of the dispatcher the reconciler needs.
type Guard interface {
	Submit(ctx context.Context, msg dto.JobMessage) error
	RunExclusive(ctx context.Context, key entities.JobKey, generation int64, fn func(ctx context.Context) error) (bool, error)
}

// Result counts what one sweep did.
type Result struct {
	Polled      int
	Resubmitted int
	Resumed     int
	Busy        int
	Failed      int
	SpoolFiles  int
}

type Reconciler struct {
	repo    repository.Repository
	guard   Guard
	avatars *service.AvatarController
	cfg     Config
	group   singleflight.Group
	now     func() time.Time
}

func New(repo repository.Repository, guard Guard, avatars *service.AvatarController, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MinPollInterval < 0 {
		cfg.MinPollInterval = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Reconciler{
		repo:    repo,
		guard:   guard,
		avatars: avatars,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run sweeps every PollInterval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Dur("interval", r.cfg.PollInterval).Msg("reconciler started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("reconcile sweep failed")
			}
		}
	}
}

// Sweep makes one pass over the due jobs.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := r.now()
	stale := now.Add(-r.cfg.StaleAfter)

	processing, err := r.repo.ListDueJobs(ctx, repository.DueFilter{
		Kind:         constant.JobKindAvatar,
		Statuses:     []string{string(constant.AvatarStatusProcessing)},
		PolledBefore: now.Add(-r.cfg.MinPollInterval),
		Limit:        r.cfg.BatchSize,
	})
	if err != nil {
		return res, err
	}
	for _, job := range processing {
		if r.cfg.SubmitOnly {
			r.submit(ctx, job, constant.JobActionCheck, &res, &res.Polled)
			continue
		}
		questionID := job.EntityID
		r.exclusive(ctx, job, &res, &res.Polled, func(ctx context.Context) error {
			return r.avatars.Check(ctx, questionID)
		})
	}

	pending, err := r.repo.ListDueJobs(ctx, repository.DueFilter{
		Kind:          constant.JobKindAvatar,
		Statuses:      []string{string(constant.AvatarStatusPending)},
		UpdatedBefore: &stale,
		Limit:         r.cfg.BatchSize,
	})
	if err != nil {
		return res, err
	}
	for _, job := range pending {
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		r.submit(ctx, job, "", &res, &res.Resubmitted)
	}

	stalled, err := r.repo.ListDueJobs(ctx, repository.DueFilter{
		Kind: constant.JobKindRecording,
		Statuses: []string{
			string(constant.RecordingStatusPending),
			string(constant.RecordingStatusUploading),
			string(constant.RecordingStatusProcessing),
		},
		UpdatedBefore: &stale,
		Limit:         r.cfg.BatchSize,
	})
	if err != nil {
		return res, err
	}
	// a resume can run the whole upload and transcription, so it always goes
	// through the dispatcher rather than the sweep loop
	for _, job := range stalled {
		r.submit(ctx, job, constant.JobActionResume, &res, &res.Resumed)
	}

	if r.cfg.SpoolDir != "" && r.cfg.SpoolMaxAge > 0 {
		n, err := service.CleanSpool(ctx, r.cfg.SpoolDir, r.cfg.SpoolMaxAge)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("dir", r.cfg.SpoolDir).Msg("failed to clean spool directory")
		}
		res.SpoolFiles = n
	}

	zerolog.Ctx(ctx).Debug().
		Int("polled", res.Polled).
		Int("resubmitted", res.Resubmitted).
		Int("resumed", res.Resumed).
		Int("busy", res.Busy).
		Int("failed", res.Failed).
		Msg("reconcile sweep done")
	return res, nil
}

func (r *Reconciler) submit(ctx context.Context, job *entities.Job, action constant.JobAction, res *Result, counter *int) {
	err := r.guard.Submit(ctx, dto.JobMessage{Kind: job.Kind, EntityID: job.EntityID, Generation: job.Generation, Action: action})
	switch {
	case err == nil:
		*counter++
	case errors.Is(err, dispatcher.ErrJobActive):
		res.Busy++
	default:
		res.Failed++
		zerolog.Ctx(ctx).Warn().Err(err).Str("job", job.Key().String()).Msg("failed to resubmit job")
	}
}

func (r *Reconciler) exclusive(ctx context.Context, job *entities.Job, res *Result, counter *int, fn func(ctx context.Context) error) {
	ran, err := r.guard.RunExclusive(ctx, job.Key(), job.Generation, fn)
	switch {
	case !ran && err == nil:
		res.Busy++
	case err == nil, errors.Is(err, repository.ErrSuperseded), errors.Is(err, repository.ErrNotFound):
		*counter++
	default:
		res.Failed++
		zerolog.Ctx(ctx).Warn().Err(err).Str("job", job.Key().String()).Msg("failed to reconcile job")
	}
}

// CheckAvatar advances a processing avatar before its status is read.
// Concurrent reads of the same question share one provider call, and a job
// polled within MinPollInterval is left alone.
func (r *Reconciler) CheckAvatar(ctx context.Context, questionID uuid.UUID) error {
	return r.check(ctx, questionID, constant.JobKindAvatar, string(constant.AvatarStatusProcessing), func(ctx context.Context) error {
		return r.avatars.Check(ctx, questionID)
	})
}

// CheckRecording hands a recording whose job has gone stale back to the
// dispatcher. It never runs the pipeline itself.
func (r *Reconciler) CheckRecording(ctx context.Context, responseID uuid.UUID) error {
	job, err := r.repo.FindJob(ctx, responseID, constant.JobKindRecording)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !r.due(job, "") {
		return nil
	}
	err = r.guard.Submit(ctx, dto.JobMessage{Kind: job.Kind, EntityID: job.EntityID, Generation: job.Generation, Action: constant.JobActionResume})
	if errors.Is(err, dispatcher.ErrJobActive) {
		return nil
	}
	return err
}

func (r *Reconciler) check(ctx context.Context, id uuid.UUID, kind constant.JobKind, status string, fn func(ctx context.Context) error) error {
	job, err := r.repo.FindJob(ctx, id, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !r.due(job, status) {
		return nil
	}

	key := job.Key()
	_, err, _ = r.group.Do(key.String(), func() (interface{}, error) {
		_, err := r.guard.RunExclusive(ctx, key, job.Generation, fn)
		return nil, err
	})
	if errors.Is(err, repository.ErrSuperseded) {
		return nil
	}
	return err
}

func (r *Reconciler) due(job *entities.Job, status string) bool {
	now := r.now()
	if status != "" {
		if job.Status != status {
			return false
		}
		return job.PolledAt == nil || job.PolledAt.Before(now.Add(-r.cfg.MinPollInterval))
	}
	switch job.Status {
	case string(constant.RecordingStatusPending), string(constant.RecordingStatusUploading), string(constant.RecordingStatusProcessing):
		return job.UpdatedAt.Before(now.Add(-r.cfg.StaleAfter))
	}
	return false
}
