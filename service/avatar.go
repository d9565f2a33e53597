package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/events"
	"interview-orchestrator/provider"
	"interview-orchestrator/repository"
	"interview-orchestrator/retry"
	"time"
)

type AvatarConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Fallbacks   []string
}

func DefaultAvatarConfig() AvatarConfig {
	return AvatarConfig{MaxAttempts: 3, RetryDelay: 5 * time.Second, Fallbacks: DefaultFallbackVideos}
}

// AvatarController drives a question's avatar job through
// pending, processing and one of completed or error.
type AvatarController struct {
	repo   repository.Repository
	avatar provider.AvatarSynthesizer
	events events.Publisher
	cfg    AvatarConfig
	now    func() time.Time
}

func NewAvatarController(repo repository.Repository, avatar provider.AvatarSynthesizer, publisher events.Publisher, cfg AvatarConfig) *AvatarController {
	if len(cfg.Fallbacks) == 0 {
		cfg.Fallbacks = DefaultFallbackVideos
	}
	if publisher == nil {
		publisher = events.Nop()
	}
	return &AvatarController{repo: repo, avatar: avatar, events: publisher, cfg: cfg, now: time.Now}
}

// Start runs the synthesis step for a pending job of the given generation,
// then checks the remote status once.
func (c *AvatarController) Start(ctx context.Context, questionID uuid.UUID, generation int64) error {
	logger := zerolog.Ctx(ctx).With().Str("question_id", questionID.String()).Int64("generation", generation).Logger()
	ctx = logger.WithContext(ctx)

	job, err := c.repo.FindJob(ctx, questionID, constant.JobKindAvatar)
	if err != nil {
		logger.Error().Err(err).Msg("failed to find avatar job")
		return err
	}
	if job.Generation != generation {
		logger.Info().Int64("current_generation", job.Generation).Msg("avatar job superseded before start")
		return repository.ErrSuperseded
	}
	if job.Status != string(constant.AvatarStatusPending) {
		logger.Info().Str("status", job.Status).Msg("avatar job is not pending")
		return nil
	}

	question, err := c.repo.FindQuestion(ctx, questionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to find question")
		return err
	}

	req := provider.AvatarRequest{Text: question.Text, VoiceID: question.VoiceID, VoiceStyle: question.VoiceStyle}
	if req.VoiceID == "" {
		req.VoiceID = constant.DefaultVoiceID
	}

	logger.Info().Msg("synthesizing avatar")
	ref, err := retry.Do(ctx, retry.Policy{MaxAttempts: c.cfg.MaxAttempts, Delay: c.cfg.RetryDelay}, retry.Options{
		Retryable: provider.IsKind(provider.KindProvider),
		OnFailure: func(a retry.Attempt) error {
			recordAttempt(job, a)
			logger.Warn().Err(a.Err).Int("attempt", a.Number).Msg("avatar synthesis attempt failed")
			return c.commit(ctx, job, entities.AvatarPending())
		},
	}, func(ctx context.Context) (string, error) {
		return c.avatar.SynthesizeAvatar(ctx, req)
	})

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSuperseded):
		return err
	case ctx.Err() != nil:
		logger.Info().Err(ctx.Err()).Msg("avatar synthesis interrupted")
		return ctx.Err()
	case provider.KindOf(err) == provider.KindUnknown:
		// bookkeeping commit failed; the job stays pending for the reconciler
		logger.Error().Err(err).Msg("avatar synthesis aborted")
		return err
	case provider.KindOf(err) == provider.KindQuota:
		i := FallbackIndex(question.Text, len(c.cfg.Fallbacks))
		logger.Warn().Int("fallback_index", i).Msg("avatar quota exhausted, using fallback video")
		clearRetry(job)
		return c.commit(ctx, job, entities.AvatarCompleted(fallbackRef(i), c.cfg.Fallbacks[i]))
	default:
		logger.Error().Err(err).Str("error_kind", provider.KindOf(err).String()).Msg("avatar synthesis failed")
		return c.commit(ctx, job, entities.AvatarFailed(provider.Message(err)))
	}

	clearRetry(job)
	if err := c.commit(ctx, job, entities.AvatarProcessing(ref)); err != nil {
		return err
	}
	logger.Info().Str("external_ref", ref).Msg("avatar job processing")
	return c.poll(ctx, job, ref)
}

// Check advances a processing job by polling the provider once. It is what
// the reconciler runs for due jobs and on status reads.
func (c *AvatarController) Check(ctx context.Context, questionID uuid.UUID) error {
	ctx = zerolog.Ctx(ctx).With().Str("question_id", questionID.String()).Logger().WithContext(ctx)
	job, err := c.repo.FindJob(ctx, questionID, constant.JobKindAvatar)
	if err != nil {
		return err
	}
	if job.Status != string(constant.AvatarStatusProcessing) || job.ExternalRef == nil {
		return nil
	}
	return c.poll(ctx, job, *job.ExternalRef)
}

func (c *AvatarController) poll(ctx context.Context, job *entities.Job, ref string) error {
	now := c.now()
	job.PolledAt = &now

	if url, ok := fallbackURL(ref, c.cfg.Fallbacks); ok {
		return c.commit(ctx, job, entities.AvatarCompleted(ref, url))
	}

	status, err := c.avatar.PollAvatarStatus(ctx, ref)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("external_ref", ref).Msg("avatar status check failed")
		msg := provider.Message(err)
		job.LastError = &msg
		return c.commit(ctx, job, entities.AvatarProcessing(ref))
	}

	switch status.State {
	case provider.RemoteDone:
		job.LastError = nil
		return c.commit(ctx, job, entities.AvatarCompleted(ref, status.VideoURL))
	case provider.RemoteFailed:
		return c.commit(ctx, job, entities.AvatarFailed(status.Message))
	default:
		return c.commit(ctx, job, entities.AvatarProcessing(ref))
	}
}

// Regenerate resets the avatar to pending under a new generation. The caller
// submits the returned job to the dispatcher.
func (c *AvatarController) Regenerate(ctx context.Context, questionID uuid.UUID, voiceID string, voiceStyle *string) (*entities.Job, error) {
	job, err := c.repo.ResetAvatar(ctx, questionID, voiceID, voiceStyle)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("question_id", questionID.String()).Int64("generation", job.Generation).Msg("avatar reset for regeneration")
	c.publish(ctx, job)
	return job, nil
}

func (c *AvatarController) commit(ctx context.Context, job *entities.Job, state entities.AvatarState) error {
	if err := c.repo.CommitAvatar(ctx, job, state); err != nil {
		if errors.Is(err, repository.ErrSuperseded) {
			zerolog.Ctx(ctx).Info().Msg("avatar job superseded, discarding result")
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to commit avatar state")
		}
		return err
	}
	c.publish(ctx, job)
	return nil
}

func (c *AvatarController) publish(ctx context.Context, job *entities.Job) {
	c.events.Publish(ctx, dto.StatusEvent{
		Kind:       job.Kind,
		EntityID:   job.EntityID,
		Status:     job.Status,
		Generation: job.Generation,
		At:         c.now(),
	})
}

func recordAttempt(job *entities.Job, a retry.Attempt) {
	job.Attempts = a.Number
	msg := provider.Message(a.Err)
	job.LastError = &msg
	if a.Final() {
		job.NextRetryAt = nil
	} else {
		next := a.NextAt
		job.NextRetryAt = &next
	}
}

func clearRetry(job *entities.Job) {
	job.NextRetryAt = nil
	job.LastError = nil
}
