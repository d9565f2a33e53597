package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/repository"
	"os"
	"strings"
)

var (
	ErrAlreadyCompleted = errors.New("interview already completed")
	ErrInvalidInput     = errors.New("invalid input")
)

// Dispatcher schedules job messages for background execution.
type Dispatcher interface {
	Submit(ctx context.Context, msg dto.JobMessage) error
	Cancel(key entities.JobKey)
	Preempt(ctx context.Context, key entities.JobKey, fn func(ctx context.Context) error) error
}

type TokenIssuer interface {
	Issue(interviewID uuid.UUID) (string, error)
}

// InterviewService is the entry point the HTTP layer and the CLI use. It
// owns no job state itself: that belongs to the controllers.
type InterviewService struct {
	repo       repository.Repository
	dispatcher Dispatcher
	avatars    *AvatarController
	recordings *RecordingController
	tokens     TokenIssuer
}

func NewInterviewService(repo repository.Repository, dispatcher Dispatcher, avatars *AvatarController, recordings *RecordingController, tokens TokenIssuer) *InterviewService {
	return &InterviewService{
		repo:       repo,
		dispatcher: dispatcher,
		avatars:    avatars,
		recordings: recordings,
		tokens:     tokens,
	}
}

func (s *InterviewService) CreateInterview(ctx context.Context, questions []dto.QuestionInput) (*entities.Interview, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", ErrInvalidInput)
	}

	id := uuid.New()
	token, err := s.tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	interview := &entities.Interview{ID: id, Token: token, Status: constant.InterviewStatusPending}
	for i, in := range questions {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: question %d has no text", ErrInvalidInput, i+1)
		}
		voice := in.VoiceID
		if voice == "" {
			voice = constant.DefaultVoiceID
		}
		interview.Questions = append(interview.Questions, entities.Question{
			Text:        text,
			OrderNumber: i + 1,
			VoiceID:     voice,
			VoiceStyle:  in.VoiceStyle,
		})
	}

	jobs, err := s.repo.CreateInterview(ctx, interview)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("interview_id", id.String()).Int("questions", len(jobs)).Msg("interview created")

	for _, job := range jobs {
		s.submit(ctx, dto.JobMessage{Kind: constant.JobKindAvatar, EntityID: job.EntityID, Generation: job.Generation})
	}
	return interview, nil
}

func (s *InterviewService) GetInterview(ctx context.Context, id uuid.UUID) (*entities.Interview, error) {
	return s.repo.FindInterview(ctx, id)
}

func (s *InterviewService) GetInterviewByToken(ctx context.Context, token string) (*entities.Interview, error) {
	return s.repo.FindInterviewByToken(ctx, token)
}

func (s *InterviewService) ListInterviews(ctx context.Context, filter repository.InterviewFilter) ([]*entities.Interview, error) {
	return s.repo.ListInterviews(ctx, filter)
}

func (s *InterviewService) UpdateStatus(ctx context.Context, id uuid.UUID, status constant.InterviewStatus) (*entities.Interview, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := s.repo.UpdateInterviewStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.repo.FindInterview(ctx, id)
}

// DeleteInterview is a soft delete; see PurgeInterview for removal.
func (s *InterviewService) DeleteInterview(ctx context.Context, id uuid.UUID) error {
	return s.repo.UpdateInterviewStatus(ctx, id, constant.InterviewStatusDeleted)
}

func (s *InterviewService) CompleteInterview(ctx context.Context, id uuid.UUID) (*entities.Interview, error) {
	interview, err := s.repo.FindInterview(ctx, id)
	if err != nil {
		return nil, err
	}
	if interview.Status == constant.InterviewStatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	return s.UpdateStatus(ctx, id, constant.InterviewStatusCompleted)
}

// PurgeInterview removes the interview and everything it owns, then deletes
// the stored recordings.
func (s *InterviewService) PurgeInterview(ctx context.Context, id uuid.UUID) error {
	interview, err := s.repo.FindInterview(ctx, id)
	if err != nil {
		return err
	}
	responses, err := s.repo.ListResponses(ctx, id)
	if err != nil {
		return err
	}
	for _, q := range interview.Questions {
		s.dispatcher.Cancel(entities.JobKey{EntityID: q.ID, Kind: constant.JobKindAvatar})
	}
	for _, r := range responses {
		s.dispatcher.Cancel(entities.JobKey{EntityID: r.ID, Kind: constant.JobKindRecording})
		if meta := entities.DecodeMetadata(r.Metadata); meta.SpoolPath != "" {
			_ = os.Remove(meta.SpoolPath)
		}
	}

	keys, err := s.repo.PurgeInterview(ctx, id)
	if err != nil {
		return err
	}
	s.recordings.DeleteObjects(ctx, keys)
	zerolog.Ctx(ctx).Info().Str("interview_id", id.String()).Int("objects", len(keys)).Msg("interview purged")
	return nil
}

func (s *InterviewService) GetQuestion(ctx context.Context, id uuid.UUID) (*entities.Question, error) {
	return s.repo.FindQuestion(ctx, id)
}

// RegenerateAvatar restarts the avatar from pending. Any run still working on
// the previous generation is cancelled and its result discarded. A message
// that cannot be queued is left to the reconciler sweep.
func (s *InterviewService) RegenerateAvatar(ctx context.Context, questionID uuid.UUID, voiceID string, voiceStyle *string) error {
	job, err := s.avatars.Regenerate(ctx, questionID, voiceID, voiceStyle)
	if err != nil {
		return err
	}
	s.submit(ctx, dto.JobMessage{Kind: constant.JobKindAvatar, EntityID: questionID, Generation: job.Generation})
	return nil
}

// AddQuestion appends a question to an interview and schedules its avatar.
func (s *InterviewService) AddQuestion(ctx context.Context, interviewID uuid.UUID, in dto.QuestionInput, orderNumber int) (*entities.Question, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question has no text", ErrInvalidInput)
	}
	if orderNumber < 0 {
		return nil, fmt.Errorf("%w: order number must not be negative", ErrInvalidInput)
	}
	voice := in.VoiceID
	if voice == "" {
		voice = constant.DefaultVoiceID
	}
	question := &entities.Question{
		InterviewID: interviewID,
		Text:        text,
		OrderNumber: orderNumber,
		VoiceID:     voice,
		VoiceStyle:  in.VoiceStyle,
	}
	job, err := s.repo.CreateQuestion(ctx, question)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("interview_id", interviewID.String()).Str("question_id", question.ID.String()).Msg("question added")
	s.submit(ctx, dto.JobMessage{Kind: constant.JobKindAvatar, EntityID: question.ID, Generation: job.Generation})
	return question, nil
}

func (s *InterviewService) ListQuestions(ctx context.Context, interviewID uuid.UUID) ([]*entities.Question, error) {
	return s.repo.ListQuestions(ctx, interviewID)
}

// UpdateQuestion changes the text or order of a question. New text
// supersedes the current avatar and schedules a fresh one.
func (s *InterviewService) UpdateQuestion(ctx context.Context, id uuid.UUID, text *string, orderNumber *int) (*entities.Question, error) {
	if text != nil {
		trimmed := strings.TrimSpace(*text)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: question has no text", ErrInvalidInput)
		}
		text = &trimmed
	}
	if orderNumber != nil && *orderNumber < 0 {
		return nil, fmt.Errorf("%w: order number must not be negative", ErrInvalidInput)
	}
	question, job, err := s.repo.UpdateQuestion(ctx, id, repository.QuestionUpdate{Text: text, OrderNumber: orderNumber})
	if err != nil {
		return nil, err
	}
	if job != nil {
		s.dispatcher.Cancel(job.Key())
		s.submit(ctx, dto.JobMessage{Kind: constant.JobKindAvatar, EntityID: id, Generation: job.Generation})
	}
	return question, nil
}

// DeleteQuestion removes the question together with its responses. Their
// jobs are cancelled and the stored recordings deleted, best effort.
func (s *InterviewService) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	var removed []*entities.Response
	err := s.dispatcher.Preempt(ctx, entities.JobKey{EntityID: id, Kind: constant.JobKindAvatar}, func(ctx context.Context) error {
		var err error
		removed, err = s.repo.DeleteQuestion(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	var keys []string
	for _, r := range removed {
		s.dispatcher.Cancel(entities.JobKey{EntityID: r.ID, Kind: constant.JobKindRecording})
		if meta := entities.DecodeMetadata(r.Metadata); meta.SpoolPath != "" {
			_ = os.Remove(meta.SpoolPath)
		}
		if r.StorageKey != nil && *r.StorageKey != "" {
			keys = append(keys, *r.StorageKey)
		}
	}
	s.recordings.DeleteObjects(ctx, keys)
	zerolog.Ctx(ctx).Info().Str("question_id", id.String()).Int("responses", len(removed)).Msg("question deleted")
	return nil
}

// SubmitRecording registers a spooled upload as a pending response and
// schedules its pipeline.
func (s *InterviewService) SubmitRecording(ctx context.Context, interviewID, questionID uuid.UUID, file SpoolFile, language string) (*entities.Response, error) {
	meta := entities.RecordingMetadata{
		Size:        file.Size,
		ContentType: file.ContentType,
		FileName:    file.FileName,
		Language:    language,
		SpoolPath:   file.Path,
	}
	response := &entities.Response{InterviewID: interviewID, QuestionID: questionID, Metadata: meta.JSON()}
	job, err := s.repo.CreateResponse(ctx, response)
	if err != nil {
		_ = os.Remove(file.Path)
		return nil, err
	}

	s.submit(ctx, dto.JobMessage{
		Kind:        constant.JobKindRecording,
		EntityID:    response.ID,
		Generation:  job.Generation,
		MediaPath:   file.Path,
		ContentType: file.ContentType,
		FileName:    file.FileName,
		Language:    language,
	})
	return response, nil
}

func (s *InterviewService) GetRecording(ctx context.Context, id uuid.UUID) (*entities.Response, error) {
	return s.repo.FindResponse(ctx, id)
}

func (s *InterviewService) ListRecordings(ctx context.Context, interviewID uuid.UUID) ([]*entities.Response, error) {
	if _, err := s.repo.FindInterview(ctx, interviewID); err != nil {
		return nil, err
	}
	return s.repo.ListResponses(ctx, interviewID)
}

// DeleteRecording stops the recording's pipeline and deletes it once the
// cancelled run has let go of the job.
func (s *InterviewService) DeleteRecording(ctx context.Context, id uuid.UUID) error {
	return s.dispatcher.Preempt(ctx, entities.JobKey{EntityID: id, Kind: constant.JobKindRecording}, func(ctx context.Context) error {
		return s.recordings.Delete(ctx, id)
	})
}

// submit never fails the caller: a job that could not be queued stays
// pending and is picked up by the reconciler sweep.
func (s *InterviewService) submit(ctx context.Context, msg dto.JobMessage) {
	if err := s.dispatcher.Submit(ctx, msg); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", string(msg.Kind)).Str("job_id", msg.EntityID.String()).Msg("failed to submit job")
	}
}
