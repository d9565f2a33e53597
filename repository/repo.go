package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"interview-orchestrator/constant"
	"interview-orchestrator/entities"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing one")
	// ErrSuperseded is returned when a step commits against a job generation
	// that has since been replaced or removed. The step's result is discarded.
	ErrSuperseded = errors.New("job superseded")
)

// QuestionUpdate carries the fields to change; nil fields are left alone.
type QuestionUpdate struct {
	Text        *string
	OrderNumber *int
}

type InterviewFilter struct {
	Skip   int
	Limit  int
	Status *constant.InterviewStatus
}

// DueFilter selects job rows for the reconciler sweep.
type DueFilter struct {
	Kind          constant.JobKind
	Statuses      []string
	PolledBefore  time.Time
	UpdatedBefore *time.Time
	Limit         int
}

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB(ctx context.Context) *gorm.DB
	Migrate(ctx context.Context) error

	CreateInterview(ctx context.Context, interview *entities.Interview) ([]*entities.Job, error)
	FindInterview(ctx context.Context, id uuid.UUID) (*entities.Interview, error)
	FindInterviewByToken(ctx context.Context, token string) (*entities.Interview, error)
	ListInterviews(ctx context.Context, filter InterviewFilter) ([]*entities.Interview, error)
	UpdateInterviewStatus(ctx context.Context, id uuid.UUID, status constant.InterviewStatus) error
	PurgeInterview(ctx context.Context, id uuid.UUID) ([]string, error)

	CreateQuestion(ctx context.Context, question *entities.Question) (*entities.Job, error)
	FindQuestion(ctx context.Context, id uuid.UUID) (*entities.Question, error)
	ListQuestions(ctx context.Context, interviewID uuid.UUID) ([]*entities.Question, error)
	UpdateQuestion(ctx context.Context, id uuid.UUID, update QuestionUpdate) (*entities.Question, *entities.Job, error)
	DeleteQuestion(ctx context.Context, id uuid.UUID) ([]*entities.Response, error)
	ResetAvatar(ctx context.Context, questionID uuid.UUID, voiceID string, voiceStyle *string) (*entities.Job, error)
	CommitAvatar(ctx context.Context, job *entities.Job, state entities.AvatarState) error

	CreateResponse(ctx context.Context, response *entities.Response) (*entities.Job, error)
	FindResponse(ctx context.Context, id uuid.UUID) (*entities.Response, error)
	ListResponses(ctx context.Context, interviewID uuid.UUID) ([]*entities.Response, error)
	DeleteResponse(ctx context.Context, id uuid.UUID) error
	CommitRecording(ctx context.Context, job *entities.Job, state entities.RecordingState, metadata datatypes.JSON) error

	FindJob(ctx context.Context, entityID uuid.UUID, kind constant.JobKind) (*entities.Job, error)
	ListDueJobs(ctx context.Context, filter DueFilter) ([]*entities.Job, error)
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

// NewRepo opens gorm over an existing postgres connection pool.
func NewRepo(db *sql.DB) (Repository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return New(gormDB), nil
}

// New wraps an already opened gorm handle of any dialect.
func New(db *gorm.DB) Repository {
	return &repo{
		db: db,
	}
}

// GetDB returns the transaction bound to ctx, if any.
func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(
		&entities.Interview{},
		&entities.Question{},
		&entities.Response{},
		&entities.Job{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateInterview inserts the interview, its questions and one pending avatar
// job row per question.
func (r *repo) CreateInterview(ctx context.Context, interview *entities.Interview) ([]*entities.Job, error) {
	if interview.ID == uuid.Nil {
		interview.ID = uuid.New()
	}
	for i := range interview.Questions {
		q := &interview.Questions[i]
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.InterviewID = interview.ID
		q.ApplyAvatar(entities.AvatarPending())
	}

	jobs := make([]*entities.Job, 0, len(interview.Questions))
	err := r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.GetDB(ctx).Create(interview).Error; err != nil {
			return err
		}
		for _, q := range interview.Questions {
			job := entities.NewJob(q.ID, constant.JobKindAvatar, string(constant.AvatarStatusPending))
			if err := r.GetDB(ctx).Create(job).Error; err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) FindInterview(ctx context.Context, id uuid.UUID) (*entities.Interview, error) {
	interview := &entities.Interview{}
	err := r.GetDB(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_number ASC") }).
		First(interview, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return interview, nil
}

func (r *repo) FindInterviewByToken(ctx context.Context, token string) (*entities.Interview, error) {
	interview := &entities.Interview{}
	err := r.GetDB(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_number ASC") }).
		First(interview, "token = ?", token).Error
	if err != nil {
		return nil, notFound(err)
	}
	return interview, nil
}

// ListInterviews hides soft-deleted interviews unless they are asked for.
func (r *repo) ListInterviews(ctx context.Context, filter InterviewFilter) ([]*entities.Interview, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q := r.GetDB(ctx).Model(&entities.Interview{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	} else {
		q = q.Where("status <> ?", constant.InterviewStatusDeleted)
	}
	var interviews []*entities.Interview
	err := q.Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_number ASC") }).
		Order("created_at DESC").
		Offset(filter.Skip).
		Limit(limit).
		Find(&interviews).Error
	if err != nil {
		return nil, err
	}
	return interviews, nil
}

func (r *repo) UpdateInterviewStatus(ctx context.Context, id uuid.UUID, status constant.InterviewStatus) error {
	res := r.GetDB(ctx).Model(&entities.Interview{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeInterview removes the interview with its questions, responses and job
// rows in one transaction. It returns the storage keys of the removed
// responses so the caller can delete the objects.
func (r *repo) PurgeInterview(ctx context.Context, id uuid.UUID) ([]string, error) {
	var keys []string
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		if err := db.First(&entities.Interview{}, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		var questionIDs, responseIDs []uuid.UUID
		if err := db.Model(&entities.Question{}).Where("interview_id = ?", id).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		var responses []*entities.Response
		if err := db.Where("interview_id = ?", id).Find(&responses).Error; err != nil {
			return err
		}
		for _, resp := range responses {
			responseIDs = append(responseIDs, resp.ID)
			if resp.StorageKey != nil && *resp.StorageKey != "" {
				keys = append(keys, *resp.StorageKey)
			}
		}

		if len(questionIDs) > 0 {
			if err := db.Where("kind = ? AND entity_id IN ?", constant.JobKindAvatar, questionIDs).Delete(&entities.Job{}).Error; err != nil {
				return err
			}
		}
		if len(responseIDs) > 0 {
			if err := db.Where("kind = ? AND entity_id IN ?", constant.JobKindRecording, responseIDs).Delete(&entities.Job{}).Error; err != nil {
				return err
			}
		}
		if err := db.Where("interview_id = ?", id).Delete(&entities.Response{}).Error; err != nil {
			return err
		}
		if err := db.Where("interview_id = ?", id).Delete(&entities.Question{}).Error; err != nil {
			return err
		}
		return db.Where("id = ?", id).Delete(&entities.Interview{}).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// CreateQuestion appends a question to an existing interview with a pending
// avatar job. An order number of zero means after the last question.
func (r *repo) CreateQuestion(ctx context.Context, question *entities.Question) (*entities.Job, error) {
	if question.ID == uuid.Nil {
		question.ID = uuid.New()
	}
	question.ApplyAvatar(entities.AvatarPending())
	job := entities.NewJob(question.ID, constant.JobKindAvatar, string(constant.AvatarStatusPending))
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		if err := db.First(&entities.Interview{}, "id = ?", question.InterviewID).Error; err != nil {
			return notFound(err)
		}
		if question.OrderNumber == 0 {
			var last int64
			if err := db.Model(&entities.Question{}).Where("interview_id = ?", question.InterviewID).
				Select("COALESCE(MAX(order_number), 0)").Row().Scan(&last); err != nil {
				return err
			}
			question.OrderNumber = int(last) + 1
		} else if err := r.orderFree(db, question.InterviewID, question.OrderNumber, uuid.Nil); err != nil {
			return err
		}
		if err := db.Create(question).Error; err != nil {
			return err
		}
		return db.Create(job).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) orderFree(db *gorm.DB, interviewID uuid.UUID, order int, except uuid.UUID) error {
	var n int64
	if err := db.Model(&entities.Question{}).
		Where("interview_id = ? AND order_number = ? AND id <> ?", interviewID, order, except).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: order number %d is taken", ErrConflict, order)
	}
	return nil
}

func (r *repo) FindQuestion(ctx context.Context, id uuid.UUID) (*entities.Question, error) {
	question := &entities.Question{}
	if err := r.GetDB(ctx).First(question, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return question, nil
}

func (r *repo) ListQuestions(ctx context.Context, interviewID uuid.UUID) ([]*entities.Question, error) {
	db := r.GetDB(ctx)
	if err := db.First(&entities.Interview{}, "id = ?", interviewID).Error; err != nil {
		return nil, notFound(err)
	}
	var questions []*entities.Question
	if err := db.Where("interview_id = ?", interviewID).Order("order_number ASC").Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// UpdateQuestion changes text or order. New text invalidates the avatar, so
// it is reset to pending under a new generation and the job is returned for
// dispatch. The job is nil when the avatar is untouched.
func (r *repo) UpdateQuestion(ctx context.Context, id uuid.UUID, update QuestionUpdate) (*entities.Question, *entities.Job, error) {
	var (
		question *entities.Question
		job      *entities.Job
	)
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		question = &entities.Question{}
		if err := db.First(question, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		fields := map[string]interface{}{"updated_at": time.Now()}
		if update.OrderNumber != nil && *update.OrderNumber != question.OrderNumber {
			if err := r.orderFree(db, question.InterviewID, *update.OrderNumber, id); err != nil {
				return err
			}
			question.OrderNumber = *update.OrderNumber
			fields["order_number"] = question.OrderNumber
		}
		if update.Text != nil && *update.Text != question.Text {
			question.Text = *update.Text
			question.ApplyAvatar(entities.AvatarPending())
			fields["text"] = question.Text
			fields["avatar_video_status"] = question.AvatarVideoStatus
			fields["avatar_video_id"] = nil
			fields["avatar_video_url"] = nil
			fields["avatar_video_error"] = nil
			var err error
			if job, err = r.bumpAvatarJob(db, id); err != nil {
				return err
			}
		}
		return db.Model(question).Updates(fields).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return question, job, nil
}

// DeleteQuestion removes the question with its responses and every job row
// they own. It returns the removed responses so the caller can cancel their
// jobs and delete the stored objects.
func (r *repo) DeleteQuestion(ctx context.Context, id uuid.UUID) ([]*entities.Response, error) {
	var responses []*entities.Response
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		if err := db.First(&entities.Question{}, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := db.Where("question_id = ?", id).Find(&responses).Error; err != nil {
			return err
		}
		if len(responses) > 0 {
			ids := make([]uuid.UUID, 0, len(responses))
			for _, resp := range responses {
				ids = append(ids, resp.ID)
			}
			if err := db.Where("kind = ? AND entity_id IN ?", constant.JobKindRecording, ids).Delete(&entities.Job{}).Error; err != nil {
				return err
			}
			if err := db.Where("question_id = ?", id).Delete(&entities.Response{}).Error; err != nil {
				return err
			}
		}
		if err := db.Where("entity_id = ? AND kind = ?", id, constant.JobKindAvatar).Delete(&entities.Job{}).Error; err != nil {
			return err
		}
		return db.Where("id = ?", id).Delete(&entities.Question{}).Error
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

// ResetAvatar clears the avatar sub-record back to pending and bumps the job
// generation, so any run still holding the previous generation can no
// longer commit.
func (r *repo) ResetAvatar(ctx context.Context, questionID uuid.UUID, voiceID string, voiceStyle *string) (*entities.Job, error) {
	var job *entities.Job
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		question := &entities.Question{}
		if err := db.First(question, "id = ?", questionID).Error; err != nil {
			return notFound(err)
		}
		if voiceID != "" {
			question.VoiceID = voiceID
		}
		if voiceStyle != nil {
			question.VoiceStyle = voiceStyle
		}
		question.ApplyAvatar(entities.AvatarPending())
		if err := db.Model(question).Updates(map[string]interface{}{
			"voice_id":            question.VoiceID,
			"voice_style":         nullable(question.VoiceStyle),
			"avatar_video_status": question.AvatarVideoStatus,
			"avatar_video_id":     nil,
			"avatar_video_url":    nil,
			"avatar_video_error":  nil,
			"updated_at":          time.Now(),
		}).Error; err != nil {
			return err
		}

		var err error
		job, err = r.bumpAvatarJob(db, questionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// bumpAvatarJob moves the avatar job to a fresh pending generation, creating
// the row if it was lost.
func (r *repo) bumpAvatarJob(db *gorm.DB, questionID uuid.UUID) (*entities.Job, error) {
	existing := &entities.Job{}
	err := db.First(existing, "entity_id = ? AND kind = ?", questionID, constant.JobKindAvatar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		job := entities.NewJob(questionID, constant.JobKindAvatar, string(constant.AvatarStatusPending))
		return job, db.Create(job).Error
	}
	if err != nil {
		return nil, err
	}
	existing.Generation++
	existing.Status = string(constant.AvatarStatusPending)
	existing.ExternalRef = nil
	existing.Attempts = 0
	existing.NextRetryAt = nil
	existing.PolledAt = nil
	existing.LastError = nil
	if err := db.Model(existing).Select("generation", "status", "external_ref", "attempts",
		"next_retry_at", "polled_at", "last_error", "updated_at").Updates(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

// CommitAvatar writes the avatar columns of the question and the job row's
// bookkeeping in one transaction, guarded by the job generation.
func (r *repo) CommitAvatar(ctx context.Context, job *entities.Job, state entities.AvatarState) error {
	question := &entities.Question{}
	question.ApplyAvatar(state)
	job.Status = string(state.Status())
	job.ExternalRef = question.AvatarVideoID

	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.updateJob(ctx, job); err != nil {
			return err
		}
		return r.GetDB(ctx).Model(&entities.Question{}).Where("id = ?", job.EntityID).
			Updates(map[string]interface{}{
				"avatar_video_status": question.AvatarVideoStatus,
				"avatar_video_id":     nullable(question.AvatarVideoID),
				"avatar_video_url":    nullable(question.AvatarVideoURL),
				"avatar_video_error":  nullable(question.AvatarVideoError),
				"updated_at":          time.Now(),
			}).Error
	})
}

func (r *repo) CreateResponse(ctx context.Context, response *entities.Response) (*entities.Job, error) {
	if response.ID == uuid.Nil {
		response.ID = uuid.New()
	}
	response.ApplyRecording(entities.RecordingPending())
	job := entities.NewJob(response.ID, constant.JobKindRecording, string(constant.RecordingStatusPending))
	err := r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		if err := db.First(&entities.Question{}, "id = ? AND interview_id = ?", response.QuestionID, response.InterviewID).Error; err != nil {
			return notFound(err)
		}
		if err := db.Create(response).Error; err != nil {
			return err
		}
		return db.Create(job).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) FindResponse(ctx context.Context, id uuid.UUID) (*entities.Response, error) {
	response := &entities.Response{}
	if err := r.GetDB(ctx).First(response, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return response, nil
}

func (r *repo) ListResponses(ctx context.Context, interviewID uuid.UUID) ([]*entities.Response, error) {
	var responses []*entities.Response
	err := r.GetDB(ctx).Where("interview_id = ?", interviewID).Order("created_at ASC").Find(&responses).Error
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *repo) DeleteResponse(ctx context.Context, id uuid.UUID) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		db := r.GetDB(ctx)
		res := db.Where("id = ?", id).Delete(&entities.Response{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return db.Where("entity_id = ? AND kind = ?", id, constant.JobKindRecording).Delete(&entities.Job{}).Error
	})
}

// CommitRecording is the recording counterpart of CommitAvatar. A nil
// metadata leaves the stored metadata untouched.
func (r *repo) CommitRecording(ctx context.Context, job *entities.Job, state entities.RecordingState, metadata datatypes.JSON) error {
	response := &entities.Response{}
	response.ApplyRecording(state)
	job.Status = string(state.Status())
	job.ExternalRef = response.StorageKey

	updates := map[string]interface{}{
		"status":        response.Status,
		"video_url":     nullable(response.VideoURL),
		"storage_key":   nullable(response.StorageKey),
		"transcription": nullable(response.Transcription),
		"error":         nullable(response.Error),
		"updated_at":    time.Now(),
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}

	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.updateJob(ctx, job); err != nil {
			return err
		}
		return r.GetDB(ctx).Model(&entities.Response{}).Where("id = ?", job.EntityID).Updates(updates).Error
	})
}

func (r *repo) FindJob(ctx context.Context, entityID uuid.UUID, kind constant.JobKind) (*entities.Job, error) {
	job := &entities.Job{}
	if err := r.GetDB(ctx).First(job, "entity_id = ? AND kind = ?", entityID, kind).Error; err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func (r *repo) ListDueJobs(ctx context.Context, filter DueFilter) ([]*entities.Job, error) {
	q := r.GetDB(ctx).Where("kind = ?", filter.Kind)
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.PolledBefore.IsZero() {
		q = q.Where("(polled_at IS NULL OR polled_at < ?)", filter.PolledBefore)
	}
	if filter.UpdatedBefore != nil {
		q = q.Where("updated_at < ?", *filter.UpdatedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var jobs []*entities.Job
	if err := q.Order("updated_at ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// updateJob writes the job's bookkeeping columns only if the generation it was
// read at is still current.
func (r *repo) updateJob(ctx context.Context, job *entities.Job) error {
	res := r.GetDB(ctx).Model(&entities.Job{}).
		Where("id = ? AND generation = ?", job.ID, job.Generation).
		Updates(map[string]interface{}{
			"status":        job.Status,
			"external_ref":  nullable(job.ExternalRef),
			"attempts":      job.Attempts,
			"next_retry_at": nullableTime(job.NextRetryAt),
			"polled_at":     nullableTime(job.PolledAt),
			"last_error":    nullable(job.LastError),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSuperseded
	}
	return nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
