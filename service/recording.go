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
	"io"
	"os"
	"path"
	"time"
)

type RecordingConfig struct {
	UploadAttempts     int
	TranscribeAttempts int
	RetryDelay         time.Duration
	DefaultLanguage    string
}

func DefaultRecordingConfig() RecordingConfig {
	return RecordingConfig{
		UploadAttempts:     3,
		TranscribeAttempts: 3,
		RetryDelay:         5 * time.Second,
		DefaultLanguage:    constant.DefaultLanguage,
	}
}

// RecordingController drives a response through upload and transcription.
// Storage failure is terminal; transcription failure still completes the
// response, without a transcript.
type RecordingController struct {
	repo        repository.Repository
	store       provider.ObjectStore
	transcriber provider.Transcriber
	events      events.Publisher
	cfg         RecordingConfig
	now         func() time.Time
}

func NewRecordingController(repo repository.Repository, store provider.ObjectStore, transcriber provider.Transcriber, publisher events.Publisher, cfg RecordingConfig) *RecordingController {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = constant.DefaultLanguage
	}
	if publisher == nil {
		publisher = events.Nop()
	}
	return &RecordingController{
		repo:        repo,
		store:       store,
		transcriber: transcriber,
		events:      publisher,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Process runs the whole pipeline for a freshly submitted response.
func (c *RecordingController) Process(ctx context.Context, msg dto.JobMessage) error {
	logger := zerolog.Ctx(ctx).With().Str("response_id", msg.EntityID.String()).Int64("generation", msg.Generation).Logger()
	ctx = logger.WithContext(ctx)

	job, err := c.repo.FindJob(ctx, msg.EntityID, constant.JobKindRecording)
	if err != nil {
		logger.Error().Err(err).Msg("failed to find recording job")
		return err
	}
	if job.Generation != msg.Generation {
		return repository.ErrSuperseded
	}
	switch job.Status {
	case string(constant.RecordingStatusPending), string(constant.RecordingStatusUploading):
	default:
		logger.Info().Str("status", job.Status).Msg("recording job already past upload")
		return nil
	}

	response, err := c.repo.FindResponse(ctx, msg.EntityID)
	if err != nil {
		return err
	}
	meta := entities.DecodeMetadata(response.Metadata)
	if msg.MediaPath != "" {
		meta.SpoolPath = msg.MediaPath
	}
	if msg.ContentType != "" {
		meta.ContentType = msg.ContentType
	}
	if msg.FileName != "" {
		meta.FileName = msg.FileName
	}
	if msg.Language != "" {
		meta.Language = msg.Language
	}
	return c.run(ctx, job, response, meta)
}

// Resume picks up a recording job left behind by a restart or a lost
// message. It must run under the dispatcher's single-writer guard.
func (c *RecordingController) Resume(ctx context.Context, responseID uuid.UUID) error {
	logger := zerolog.Ctx(ctx).With().Str("response_id", responseID.String()).Logger()
	ctx = logger.WithContext(ctx)

	job, err := c.repo.FindJob(ctx, responseID, constant.JobKindRecording)
	if err != nil {
		return err
	}
	response, err := c.repo.FindResponse(ctx, responseID)
	if err != nil {
		return err
	}
	meta := entities.DecodeMetadata(response.Metadata)
	state := response.RecordingState()

	switch state.Status() {
	case constant.RecordingStatusProcessing:
		if state.Object().URL != "" {
			logger.Info().Msg("resuming transcription")
			return c.transcribe(ctx, job, state.Object(), meta)
		}
	case constant.RecordingStatusPending, constant.RecordingStatusUploading:
		if meta.SpoolPath != "" {
			if _, err := os.Stat(meta.SpoolPath); err == nil {
				logger.Info().Msg("resuming upload")
				return c.run(ctx, job, response, meta)
			}
		}
	default:
		return nil
	}

	logger.Warn().Str("status", string(state.Status())).Msg("recording cannot be resumed")
	meta.SpoolPath = ""
	return c.commit(ctx, job, entities.RecordingFailed("upload interrupted"), meta)
}

func (c *RecordingController) run(ctx context.Context, job *entities.Job, response *entities.Response, meta entities.RecordingMetadata) error {
	logger := zerolog.Ctx(ctx)

	if err := c.commit(ctx, job, entities.RecordingUploading(), meta); err != nil {
		return err
	}

	f, err := os.Open(meta.SpoolPath)
	if err != nil {
		logger.Error().Err(err).Str("spool_path", meta.SpoolPath).Msg("failed to open spooled recording")
		meta.SpoolPath = ""
		return c.commit(ctx, job, entities.RecordingFailed("recording file unavailable"), meta)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		meta.Size = info.Size()
	}

	name := meta.FileName
	if name == "" {
		name = path.Base(meta.SpoolPath)
	}
	keyHint := "recordings/" + response.InterviewID.String() + "/" + path.Base(name)

	logger.Info().Int64("size", meta.Size).Msg("uploading recording")
	obj, err := retry.Do(ctx, retry.Policy{MaxAttempts: c.cfg.UploadAttempts, Delay: c.cfg.RetryDelay}, retry.Options{
		Retryable: provider.IsKind(provider.KindStorageUnavailable),
		OnFailure: func(a retry.Attempt) error {
			recordAttempt(job, a)
			logger.Warn().Err(a.Err).Int("attempt", a.Number).Msg("recording upload attempt failed")
			return c.commit(ctx, job, entities.RecordingUploading(), meta)
		},
	}, func(ctx context.Context) (entities.StoredObject, error) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return entities.StoredObject{}, provider.NewError(provider.KindStorageUnavailable, "spool.seek", "rewind spool file", err)
		}
		return c.store.StoreObject(ctx, provider.Object{
			Body:        f,
			Size:        meta.Size,
			KeyHint:     keyHint,
			ContentType: meta.ContentType,
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSuperseded):
		return err
	case ctx.Err() != nil:
		// spool file is kept so the reconciler can resume the upload
		logger.Info().Err(ctx.Err()).Msg("recording upload interrupted")
		return ctx.Err()
	case provider.KindOf(err) == provider.KindUnknown:
		logger.Error().Err(err).Msg("recording upload aborted")
		return err
	default:
		logger.Error().Err(err).Str("error_kind", provider.KindOf(err).String()).Msg("recording upload failed")
		c.removeSpool(ctx, &meta)
		return c.commit(ctx, job, entities.RecordingFailed(provider.Message(err)), meta)
	}

	clearRetry(job)
	job.Attempts = 0
	spool := meta.SpoolPath
	meta.SpoolPath = ""
	if err := c.commit(ctx, job, entities.RecordingProcessing(obj), meta); err != nil {
		// nothing references the object now; a resume uploads the spool again
		c.discardObject(ctx, obj.Key)
		return err
	}
	meta.SpoolPath = spool
	c.removeSpool(ctx, &meta)
	logger.Info().Str("storage_key", obj.Key).Msg("recording stored")
	return c.transcribe(ctx, job, obj, meta)
}

func (c *RecordingController) transcribe(ctx context.Context, job *entities.Job, obj entities.StoredObject, meta entities.RecordingMetadata) error {
	logger := zerolog.Ctx(ctx)
	lang := provider.NormalizeLanguage(meta.Language, c.cfg.DefaultLanguage)

	transcript, err := retry.Do(ctx, retry.Policy{MaxAttempts: c.cfg.TranscribeAttempts, Delay: c.cfg.RetryDelay}, retry.Options{
		Retryable: provider.IsKind(provider.KindTranscriptionUnavailable),
		OnFailure: func(a retry.Attempt) error {
			recordAttempt(job, a)
			logger.Warn().Err(a.Err).Int("attempt", a.Number).Msg("transcription attempt failed")
			return c.commit(ctx, job, entities.RecordingProcessing(obj), meta)
		},
	}, func(ctx context.Context) (provider.Transcript, error) {
		return c.transcriber.Transcribe(ctx, obj.URL, lang)
	})

	switch {
	case err == nil:
		text := transcript.Text
		meta.Language = firstOf(transcript.Language, lang)
		meta.SegmentCount = len(transcript.Segments)
		if n := len(transcript.Segments); n > 0 {
			meta.Duration = transcript.Segments[n-1].End.Seconds()
		}
		clearRetry(job)
		logger.Info().Int("segments", meta.SegmentCount).Msg("recording transcribed")
		return c.commit(ctx, job, entities.RecordingCompleted(obj, &text), meta)
	case errors.Is(err, repository.ErrSuperseded):
		return err
	case ctx.Err() != nil:
		logger.Info().Err(ctx.Err()).Msg("transcription interrupted")
		return ctx.Err()
	case provider.KindOf(err) == provider.KindUnknown:
		logger.Error().Err(err).Msg("transcription aborted")
		return err
	default:
		logger.Warn().Err(err).Str("error_kind", provider.KindOf(err).String()).Msg("transcription unavailable, completing without transcript")
		return c.commit(ctx, job, entities.RecordingCompleted(obj, nil), meta)
	}
}

// Delete removes the stored object, best effort, and then the response. It
// must run under the dispatcher's single-writer guard so no upload can land
// between reading the storage key and removing the row.
func (c *RecordingController) Delete(ctx context.Context, responseID uuid.UUID) error {
	response, err := c.repo.FindResponse(ctx, responseID)
	if err != nil {
		return err
	}
	if response.StorageKey != nil && *response.StorageKey != "" {
		if err := c.store.DeleteObject(ctx, *response.StorageKey); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("storage_key", *response.StorageKey).Msg("failed to delete stored recording")
		}
	}
	if meta := entities.DecodeMetadata(response.Metadata); meta.SpoolPath != "" {
		c.removeSpool(ctx, &meta)
	}
	return c.repo.DeleteResponse(ctx, responseID)
}

func (c *RecordingController) discardObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.store.DeleteObject(context.WithoutCancel(ctx), key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("storage_key", key).Msg("failed to discard unreferenced recording")
	}
}

// DeleteObjects removes stored objects left behind by a purge.
func (c *RecordingController) DeleteObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := c.store.DeleteObject(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("storage_key", key).Msg("failed to delete stored recording")
		}
	}
}

func (c *RecordingController) commit(ctx context.Context, job *entities.Job, state entities.RecordingState, meta entities.RecordingMetadata) error {
	if err := c.repo.CommitRecording(ctx, job, state, meta.JSON()); err != nil {
		if errors.Is(err, repository.ErrSuperseded) {
			zerolog.Ctx(ctx).Info().Msg("recording job superseded, discarding result")
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to commit recording state")
		}
		return err
	}
	c.events.Publish(ctx, dto.StatusEvent{
		Kind:       job.Kind,
		EntityID:   job.EntityID,
		Status:     job.Status,
		Generation: job.Generation,
		At:         c.now(),
	})
	return nil
}

func (c *RecordingController) removeSpool(ctx context.Context, meta *entities.RecordingMetadata) {
	if meta.SpoolPath == "" {
		return
	}
	if err := os.Remove(meta.SpoolPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("spool_path", meta.SpoolPath).Msg("failed to remove spool file")
	}
	meta.SpoolPath = ""
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
