package handler

import (
	"github.com/gin-gonic/gin"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/repository"
	"net/http"
	"strconv"
)

func toQuestionDetail(q entities.Question) dto.QuestionDetail {
	return dto.QuestionDetail{
		ID:                q.ID,
		Text:              q.Text,
		OrderNumber:       q.OrderNumber,
		VoiceID:           q.VoiceID,
		VoiceStyle:        q.VoiceStyle,
		AvatarVideoStatus: q.AvatarVideoStatus,
		AvatarVideoURL:    q.AvatarVideoURL,
		AvatarVideoError:  q.AvatarVideoError,
	}
}

func toInterviewDetail(i *entities.Interview) dto.InterviewDetail {
	detail := dto.InterviewDetail{
		ID:        i.ID,
		Token:     i.Token,
		Status:    i.Status,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		Questions: make([]dto.QuestionDetail, 0, len(i.Questions)),
	}
	for _, q := range i.Questions {
		detail.Questions = append(detail.Questions, toQuestionDetail(q))
	}
	return detail
}

func (h *Handler) CreateInterview(c *gin.Context) {
	var req []dto.QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interview, err := h.Service.CreateInterview(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toInterviewDetail(interview))
}

func (h *Handler) ListInterviews(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	filter := repository.InterviewFilter{Skip: skip, Limit: limit}
	if raw := c.Query("status"); raw != "" {
		status := constant.InterviewStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}

	interviews, err := h.Service.ListInterviews(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.InterviewDetail, 0, len(interviews))
	for _, i := range interviews {
		out = append(out, toInterviewDetail(i))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetInterview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	interview, err := h.Service.GetInterview(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInterviewDetail(interview))
}

func (h *Handler) GetInterviewByToken(c *gin.Context) {
	interview, err := h.Service.GetInterviewByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInterviewDetail(interview))
}

func (h *Handler) UpdateInterview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	interview, err := h.Service.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInterviewDetail(interview))
}

func (h *Handler) DeleteInterview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteInterview(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Interview deleted"})
}

func (h *Handler) CompleteInterview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	interview, err := h.Service.CompleteInterview(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInterviewDetail(interview))
}
