package dto

import (
	"github.com/google/uuid"
	"interview-orchestrator/constant"
	"time"
)

// JobMessage is what travels through the dispatcher transport. Recording jobs
// carry the spool path of the already validated upload rather than its bytes.
type JobMessage struct {
	Kind        constant.JobKind   `json:"kind"`
	EntityID    uuid.UUID          `json:"entityId"`
	Generation  int64              `json:"generation"`
	Action      constant.JobAction `json:"action,omitempty"`
	MediaPath   string             `json:"mediaPath,omitempty"`
	ContentType string             `json:"contentType,omitempty"`
	FileName    string             `json:"fileName,omitempty"`
	Language    string             `json:"language,omitempty"`
}

type QuestionInput struct {
	Text       string  `json:"text" binding:"required"`
	VoiceID    string  `json:"voice_id"`
	VoiceStyle *string `json:"voice_style"`
}

type CreateQuestionRequest struct {
	InterviewID uuid.UUID `json:"interview_id"`
	Text        string    `json:"text" binding:"required"`
	VoiceID     string    `json:"voice_id"`
	VoiceStyle  *string   `json:"voice_style"`
	OrderNumber int       `json:"order_number"`
}

// UpdateQuestionRequest leaves absent fields unchanged.
type UpdateQuestionRequest struct {
	Text        *string `json:"text"`
	OrderNumber *int    `json:"order_number"`
}

type UpdateInterviewRequest struct {
	Status constant.InterviewStatus `json:"status" binding:"required"`
}

type AvatarStatusResponse struct {
	Status   constant.AvatarStatus `json:"status"`
	VideoURL *string               `json:"video_url"`
	Error    *string               `json:"error"`
}

type RecordingStatusResponse struct {
	ID            uuid.UUID                `json:"id"`
	Status        constant.RecordingStatus `json:"status"`
	VideoURL      *string                  `json:"video_url"`
	Transcription *string                  `json:"transcription"`
	Error         *string                  `json:"error"`
}

type UploadAccepted struct {
	ResponseID uuid.UUID                `json:"response_id"`
	Status     constant.RecordingStatus `json:"status"`
	Message    string                   `json:"message"`
}

type QuestionDetail struct {
	ID                uuid.UUID             `json:"id"`
	Text              string                `json:"text"`
	OrderNumber       int                   `json:"order_number"`
	VoiceID           string                `json:"voice_id"`
	VoiceStyle        *string               `json:"voice_style"`
	AvatarVideoStatus constant.AvatarStatus `json:"avatar_video_status"`
	AvatarVideoURL    *string               `json:"avatar_video_url"`
	AvatarVideoError  *string               `json:"avatar_video_error"`
}

type InterviewDetail struct {
	ID        uuid.UUID                `json:"id"`
	Token     string                   `json:"url_id"`
	Status    constant.InterviewStatus `json:"status"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Questions []QuestionDetail         `json:"questions"`
}

// StatusEvent is published on every committed state transition.
type StatusEvent struct {
	Kind       constant.JobKind `json:"kind"`
	EntityID   uuid.UUID        `json:"entityId"`
	Status     string           `json:"status"`
	Generation int64            `json:"generation"`
	At         time.Time        `json:"at"`
}
