package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *utils.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *utils.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartScheduledAttempt joins a scheduled exam
// @Summary Start scheduled exam attempt
// @Description Joins a scheduled exam, resuming the ongoing attempt if one exists
// @Tags attempts
// @Accept json
// @Produce json
// @Param exam_id path uint true "Exam ID"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/exams/{exam_id}/start [post]
func (h *AttemptHandler) StartScheduledAttempt(c *gin.Context) {
	examID := parseIDParam(c, "exam_id")
	if examID == 0 {
		return
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting scheduled attempt", "exam_id", examID)

	attempt, err := h.attemptService.StartScheduled(c.Request.Context(), examID, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if attempt.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, attempt)
}

// StartCustomQuiz creates an ad-hoc AI-generated quiz attempt
// @Summary Start custom quiz
// @Description Generates questions for the topic and starts an attempt against them
// @Tags attempts
// @Accept json
// @Produce json
// @Param quiz body services.StartCustomQuizRequest true "Quiz parameters"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /attempts/custom [post]
func (h *AttemptHandler) StartCustomQuiz(c *gin.Context) {
	var req services.StartCustomQuizRequest
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

	h.LogRequest(c, "Starting custom quiz", "topic", req.Topic)

	attempt, err := h.attemptService.StartCustom(c.Request.Context(), &req, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// RecordAnswers replaces the attempt's answer sheet
// @Summary Record answers
// @Description Replaces the whole answer sheet of an ongoing attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param answers body []models.SelectedAnswer true "Answer sheet"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/answers [put]
func (h *AttemptHandler) RecordAnswers(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	var answers []models.SelectedAnswer
	if err := c.ShouldBindJSON(&answers); err != nil {
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

	if err := h.attemptService.RecordAnswers(c.Request.Context(), attemptID, studentID, answers); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Answers recorded"})
}

// SubmitAttempt finalizes the attempt
// @Summary Submit attempt
// @Description Finalizes the attempt and computes its score. Idempotent.
// @Tags attempts
// @Accept json
// @Produce json
// @Param submission body services.SubmitAttemptRequest true "Submission"
// @Success 200 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	var req services.SubmitAttemptRequest
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

	h.LogRequest(c, "Submitting attempt", "attempt_id", req.AttemptID, "time_up", req.TimeUp)

	attempt, err := h.attemptService.Submit(c.Request.Context(), &req, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetAttempt retrieves one attempt
// @Summary Get attempt
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), attemptID, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetResult returns the per-question breakdown of a finalized attempt
// @Summary Get attempt result
// @Description Returns score and per-question breakdown. 404 until finalized.
// @Tags attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResultResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}

	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Result(c.Request.Context(), attemptID, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListAttempts lists the student's own attempts
// @Summary List attempts
// @Tags attempts
// @Produce json
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Param status query string false "Attempt status filter"
// @Success 200 {object} PaginatedResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	size := parseIntQuery(c, "size", 10)

	filters := repositories.AttemptFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}
	if status := c.Query("status"); status != "" {
		attemptStatus := models.AttemptStatus(status)
		filters.Status = &attemptStatus
	}

	attempts, total, err := h.attemptService.ListForStudent(c.Request.Context(), studentID, filters)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Items: attempts,
		Total: total,
		Page:  page,
		Size:  size,
	})
}
