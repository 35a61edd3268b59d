package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
)

type ProctorHandler struct {
	BaseHandler
	proctorService services.ProctorService
	secLogger      *services.ServiceLogger
	validator      *utils.Validator
}

func NewProctorHandler(
	proctorService services.ProctorService,
	secLogger *services.ServiceLogger,
	validator *utils.Validator,
	logger utils.Logger,
) *ProctorHandler {
	return &ProctorHandler{
		BaseHandler:    NewBaseHandler(logger),
		proctorService: proctorService,
		secLogger:      secLogger,
		validator:      validator,
	}
}

type RegisterFaceRequest struct {
	Embedding []float64 `json:"embedding" validate:"required,min=1"`
}

// TabSwitchRequest optionally carries the student's current answers so a
// threshold-triggered auto-submit scores their last-known sheet.
type TabSwitchRequest struct {
	Answers []models.SelectedAnswer `json:"answers,omitempty"`
}

// RegisterTabSwitch records a tab/window focus loss
// @Summary Register tab switch
// @Description Records a focus-loss event against the ongoing attempt, optionally persisting the answers shipped with it
// @Tags proctoring
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param signal body TabSwitchRequest false "Current answers"
// @Success 200 {object} services.ProctorResponse
// @Failure 404 {object} ErrorResponse
// @Router /proctoring/attempts/{id}/tab-switch [post]
func (h *ProctorHandler) RegisterTabSwitch(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	// The body is optional; a bare signal carries no answers.
	var req TabSwitchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.proctorService.RegisterTabSwitch(c.Request.Context(), attemptID, studentID, req.Answers)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	h.logViolationIfAny(c, studentID, resp)
	c.JSON(http.StatusOK, resp)
}

// FaceCheck evaluates one camera frame
// @Summary Face check
// @Description Compares the frame embedding against the registered face; an empty embedding means no face detected
// @Tags proctoring
// @Accept json
// @Produce json
// @Param check body services.FaceCheckRequest true "Frame embedding"
// @Success 200 {object} services.ProctorResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /proctoring/face-check [post]
func (h *ProctorHandler) FaceCheck(c *gin.Context) {
	var req services.FaceCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.proctorService.FaceCheck(c.Request.Context(), &req, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	h.logViolationIfAny(c, studentID, resp)
	c.JSON(http.StatusOK, resp)
}

// RegisterFace stores the student's reference embedding
// @Summary Register face embedding
// @Tags proctoring
// @Accept json
// @Produce json
// @Param face body RegisterFaceRequest true "Reference embedding"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /proctoring/face [put]
func (h *ProctorHandler) RegisterFace(c *gin.Context) {
	var req RegisterFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.proctorService.RegisterFace(c.Request.Context(), studentID, req.Embedding); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Face registered"})
}

// logViolationIfAny records a security event when a signal crossed the
// violation threshold. Idempotent replays against a finalized attempt also
// report auto_submitted and must not log again.
func (h *ProctorHandler) logViolationIfAny(c *gin.Context, studentID string, resp *services.ProctorResponse) {
	if resp == nil || !resp.AutoSubmitted || !resp.WarningIssued {
		return
	}
	h.secLogger.LogSecurityEvent(c.Request.Context(), services.SecurityEvent{
		Type:        services.SecurityEventProctorViolation,
		Severity:    services.SecuritySeverityHigh,
		UserID:      studentID,
		Description: "attempt auto-submitted after repeated proctoring warnings",
		Timestamp:   time.Now(),
		IPAddress:   c.ClientIP(),
		Metadata: map[string]interface{}{
			"attempt_id":     resp.AttemptID,
			"total_warnings": resp.TotalWarnings,
		},
	})
}
