package handler

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"interview-orchestrator/auth"
	"interview-orchestrator/dispatcher"
	"interview-orchestrator/repository"
	"interview-orchestrator/service"
	"net/http"
	"strings"
)

type TokenResolver interface {
	Resolve(token string) (uuid.UUID, error)
}

// StatusChecker advances in-flight jobs before their status is read.
type StatusChecker interface {
	CheckAvatar(ctx context.Context, questionID uuid.UUID) error
	CheckRecording(ctx context.Context, responseID uuid.UUID) error
}

type Upload struct {
	MaxBytes int64
	SpoolDir string
}

type Handler struct {
	Service *service.InterviewService
	Checker StatusChecker
	Tokens  TokenResolver
	Upload  Upload
}

const interviewIDKey = "interview_id"

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api/v1")

	api.POST("/interviews", h.CreateInterview)
	api.GET("/interviews", h.ListInterviews)
	api.GET("/interviews/by-token/:token", h.GetInterviewByToken)
	api.GET("/interviews/:id", h.GetInterview)
	api.PUT("/interviews/:id", h.UpdateInterview)
	api.DELETE("/interviews/:id", h.DeleteInterview)
	api.POST("/interviews/:id/complete", h.CompleteInterview)
	api.GET("/interviews/:id/recordings", h.ListRecordings)

	api.POST("/questions", h.CreateQuestion)
	api.GET("/questions/:id/all", h.ListQuestions)
	api.PUT("/questions/:id", h.UpdateQuestion)
	api.GET("/questions/:id/avatar-status", h.GetAvatarStatus)
	api.POST("/questions/:id/regenerate-avatar", h.RegenerateAvatar)
	api.DELETE("/questions/:id", h.DeleteQuestion)

	api.POST("/recordings/upload", h.RequireInterviewToken(), h.UploadRecording)
	api.GET("/recordings/:id", h.GetRecording)
	api.DELETE("/recordings/:id", h.DeleteRecording)
}

// RequireInterviewToken resolves the bearer token to the interview it grants
// access to.
func (h *Handler) RequireInterviewToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := strings.Fields(c.GetHeader("Authorization"))
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is missing or invalid"})
			return
		}
		id, err := h.Tokens.Resolve(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(interviewIDKey, id)
		c.Next()
	}
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without details.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": "job already in progress"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errors.Is(err, service.ErrAlreadyCompleted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Interview already completed"})
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrFileTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
