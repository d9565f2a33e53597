package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"interview-orchestrator/dto"
	"net/http"
)

func (h *Handler) CreateQuestion(c *gin.Context) {
	var req dto.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.InterviewID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interview_id is required"})
		return
	}
	in := dto.QuestionInput{Text: req.Text, VoiceID: req.VoiceID, VoiceStyle: req.VoiceStyle}
	question, err := h.Service.AddQuestion(c.Request.Context(), req.InterviewID, in, req.OrderNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toQuestionDetail(*question))
}

// ListQuestions takes the interview id.
func (h *Handler) ListQuestions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	questions, err := h.Service.ListQuestions(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.QuestionDetail, 0, len(questions))
	for _, q := range questions {
		out = append(out, toQuestionDetail(*q))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	question, err := h.Service.UpdateQuestion(c.Request.Context(), id, req.Text, req.OrderNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuestionDetail(*question))
}

// GetAvatarStatus reports the last committed avatar state. A failed lazy
// check only costs freshness, never the response.
func (h *Handler) GetAvatarStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.Checker != nil {
		if err := h.Checker.CheckAvatar(ctx, id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("question_id", id.String()).Msg("lazy avatar check failed")
		}
	}

	question, err := h.Service.GetQuestion(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AvatarStatusResponse{
		Status:   question.AvatarVideoStatus,
		VideoURL: question.AvatarVideoURL,
		Error:    question.AvatarVideoError,
	})
}

func (h *Handler) RegenerateAvatar(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var style *string
	if v, ok := c.GetQuery("voice_style"); ok && v != "" {
		style = &v
	}
	if err := h.Service.RegenerateAvatar(c.Request.Context(), id, c.Query("voice_id"), style); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "regeneration_scheduled"})
}

func (h *Handler) DeleteQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteQuestion(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question deleted"})
}
