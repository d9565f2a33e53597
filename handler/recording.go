package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/service"
	"net/http"
)

// multipart overhead allowed on top of the file itself
const formSlack = 1 << 20

func toRecordingStatus(r *entities.Response) dto.RecordingStatusResponse {
	return dto.RecordingStatusResponse{
		ID:            r.ID,
		Status:        r.Status,
		VideoURL:      r.VideoURL,
		Transcription: r.Transcription,
		Error:         r.Error,
	}
}

func (h *Handler) UploadRecording(c *gin.Context) {
	ctx := c.Request.Context()
	if h.Upload.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Upload.MaxBytes+formSlack)
	}

	interviewID, err := uuid.Parse(c.PostForm("interview_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interview_id"})
		return
	}
	questionID, err := uuid.Parse(c.PostForm("question_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question_id"})
		return
	}
	if granted := c.MustGet(interviewIDKey).(uuid.UUID); granted != interviewID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token does not grant access to this interview"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if err := service.ValidateRecording(header.Filename, header.Size, h.Upload.MaxBytes); err != nil {
		writeError(c, err)
		return
	}

	src, err := header.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer src.Close()

	file, err := service.Spool(h.Upload.SpoolDir, header.Filename, header.Header.Get("Content-Type"), src, h.Upload.MaxBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	response, err := h.Service.SubmitRecording(ctx, interviewID, questionID, file, c.PostForm("language"))
	if err != nil {
		writeError(c, err)
		return
	}
	zerolog.Ctx(ctx).Info().Str("response_id", response.ID.String()).Int64("size", file.Size).Msg("recording accepted")
	c.JSON(http.StatusAccepted, dto.UploadAccepted{
		ResponseID: response.ID,
		Status:     constant.RecordingStatusPending,
		Message:    "Recording uploaded, processing started",
	})
}

func (h *Handler) GetRecording(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.Checker != nil {
		if err := h.Checker.CheckRecording(ctx, id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("response_id", id.String()).Msg("lazy recording check failed")
		}
	}

	response, err := h.Service.GetRecording(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordingStatus(response))
}

func (h *Handler) ListRecordings(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	responses, err := h.Service.ListRecordings(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.RecordingStatusResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, toRecordingStatus(r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteRecording(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteRecording(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Recording deleted"})
}
