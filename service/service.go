package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"interview-orchestrator/repository"
)

var ErrNonRetryable = errors.New("non-retryable error")

// Service runs one dispatched job message to completion.
type Service interface {
	Process(ctx context.Context, message dto.JobMessage) error
}

type service struct {
	avatars    *AvatarController
	recordings *RecordingController
}

// Process routes the message to its controller. Outcomes that a redelivery
// cannot change are logged and swallowed so the transport acknowledges them.
func (s service) Process(ctx context.Context, message dto.JobMessage) (err error) {
	zerolog.Ctx(ctx).Info().
		Str("job_id", message.EntityID.String()).
		Str("kind", string(message.Kind)).
		Int64("generation", message.Generation).
		Str("action", string(message.Action)).
		Msg("processing job")

	defer func() {
		switch {
		case err == nil:
		case errors.Is(err, ErrNonRetryable):
			zerolog.Ctx(ctx).Error().Err(err).Msg("dropping job")
			err = nil
		case errors.Is(err, repository.ErrSuperseded), errors.Is(err, repository.ErrNotFound):
			zerolog.Ctx(ctx).Info().Err(err).Msg("job no longer current")
			err = nil
		case errors.Is(err, context.Canceled):
			zerolog.Ctx(ctx).Info().Msg("job interrupted")
			err = nil
		}
	}()

	switch {
	case message.Kind == constant.JobKindAvatar && message.Action == constant.JobActionCheck:
		return s.avatars.Check(ctx, message.EntityID)
	case message.Kind == constant.JobKindAvatar && message.Action == "":
		return s.avatars.Start(ctx, message.EntityID, message.Generation)
	case message.Kind == constant.JobKindRecording && message.Action == constant.JobActionResume:
		return s.recordings.Resume(ctx, message.EntityID)
	case message.Kind == constant.JobKindRecording && message.Action == "":
		return s.recordings.Process(ctx, message)
	case message.Kind != constant.JobKindAvatar && message.Kind != constant.JobKindRecording:
		return errors.Join(ErrNonRetryable, fmt.Errorf("unknown job kind %q", message.Kind))
	default:
		return errors.Join(ErrNonRetryable, fmt.Errorf("unknown %s job action %q", message.Kind, message.Action))
	}
}

func NewService(avatars *AvatarController, recordings *RecordingController) Service {
	return &service{
		avatars:    avatars,
		recordings: recordings,
	}
}
