package entities

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"interview-orchestrator/constant"
	"time"
)

type Interview struct {
	ID        uuid.UUID                `json:"id" gorm:"type:uuid;primaryKey"`
	Token     string                   `json:"url_id" gorm:"type:text;not null;uniqueIndex:idx_interviews_token"`
	Status    constant.InterviewStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_interviews_status"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`

	Questions []Question `json:"questions" gorm:"foreignKey:InterviewID;constraint:OnDelete:CASCADE"`
	Responses []Response `json:"responses" gorm:"foreignKey:InterviewID;constraint:OnDelete:CASCADE"`
}

func (Interview) TableName() string {
	return "interviews"
}

type Question struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	InterviewID uuid.UUID `json:"interview_id" gorm:"type:uuid;not null;uniqueIndex:idx_questions_interview_order"`
	Text        string    `json:"text" gorm:"type:text;not null"`
	OrderNumber int       `json:"order_number" gorm:"not null;uniqueIndex:idx_questions_interview_order"`
	VoiceID     string    `json:"voice_id" gorm:"type:varchar(100)"`
	VoiceStyle  *string   `json:"voice_style" gorm:"type:varchar(100)"`

	AvatarVideoID     *string               `json:"avatar_video_id" gorm:"type:varchar(255)"`
	AvatarVideoStatus constant.AvatarStatus `json:"avatar_video_status" gorm:"type:varchar(20);not null;default:'pending'"`
	AvatarVideoURL    *string               `json:"avatar_video_url" gorm:"type:text"`
	AvatarVideoError  *string               `json:"avatar_video_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}

// AvatarState reads the avatar columns back into their variant form.
func (q *Question) AvatarState() AvatarState {
	return AvatarState{
		status:  q.AvatarVideoStatus,
		ref:     deref(q.AvatarVideoID),
		url:     deref(q.AvatarVideoURL),
		message: deref(q.AvatarVideoError),
	}
}

// ApplyAvatar is the only writer of the avatar columns.
func (q *Question) ApplyAvatar(s AvatarState) {
	q.AvatarVideoStatus = s.Status()
	q.AvatarVideoID = ptrOrNil(s.ref)
	q.AvatarVideoURL = nil
	q.AvatarVideoError = nil
	switch s.status {
	case constant.AvatarStatusCompleted:
		q.AvatarVideoURL = ptrOrNil(s.url)
	case constant.AvatarStatusError:
		q.AvatarVideoError = ptrOrNil(s.message)
	}
}

type Response struct {
	ID            uuid.UUID                `json:"id" gorm:"type:uuid;primaryKey"`
	InterviewID   uuid.UUID                `json:"interview_id" gorm:"type:uuid;not null;index:idx_responses_interview"`
	QuestionID    uuid.UUID                `json:"question_id" gorm:"type:uuid;not null;index:idx_responses_question"`
	VideoURL      *string                  `json:"video_url" gorm:"type:text"`
	StorageKey    *string                  `json:"-" gorm:"type:varchar(500)"`
	Transcription *string                  `json:"transcription" gorm:"type:text"`
	Status        constant.RecordingStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	Error         *string                  `json:"error" gorm:"type:text"`
	Metadata      datatypes.JSON           `json:"metadata"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

func (Response) TableName() string {
	return "responses"
}

func (r *Response) RecordingState() RecordingState {
	return RecordingState{
		status:     r.Status,
		object:     StoredObject{URL: deref(r.VideoURL), Key: deref(r.StorageKey)},
		transcript: r.Transcription,
		message:    deref(r.Error),
	}
}

// ApplyRecording is the only writer of the pipeline columns.
func (r *Response) ApplyRecording(s RecordingState) {
	r.Status = s.Status()
	r.VideoURL = nil
	r.StorageKey = nil
	r.Transcription = nil
	r.Error = nil
	switch s.status {
	case constant.RecordingStatusProcessing:
		r.VideoURL = ptrOrNil(s.object.URL)
		r.StorageKey = ptrOrNil(s.object.Key)
	case constant.RecordingStatusCompleted:
		r.VideoURL = ptrOrNil(s.object.URL)
		r.StorageKey = ptrOrNil(s.object.Key)
		r.Transcription = s.transcript
	case constant.RecordingStatusFailed:
		r.Error = ptrOrNil(s.message)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
