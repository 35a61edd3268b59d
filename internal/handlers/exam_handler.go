package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
)

type ExamHandler struct {
	BaseHandler
	examService    services.ExamService
	exportService  services.ExportService
	extractService services.TextExtractionService
	validator      *utils.Validator
}

func NewExamHandler(
	examService services.ExamService,
	exportService services.ExportService,
	extractService services.TextExtractionService,
	validator *utils.Validator,
	logger utils.Logger,
) *ExamHandler {
	return &ExamHandler{
		BaseHandler:    NewBaseHandler(logger),
		examService:    examService,
		exportService:  exportService,
		extractService: extractService,
		validator:      validator,
	}
}

// CreateExam creates a draft exam
// @Summary Create exam
// @Description Creates a draft exam from provided questions or generation inputs
// @Tags exams
// @Accept json
// @Produce json
// @Param exam body services.CreateExamRequest true "Exam data"
// @Success 201 {object} models.Exam
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /exams [post]
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req services.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Creating exam", "title", req.Title)

	exam, err := h.examService.Create(c.Request.Context(), &req, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// CreateExamFromFile creates a draft exam from an uploaded document
// @Summary Create exam from file
// @Description Extracts text from the upload and generates the question set from it
// @Tags exams
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Study material (.txt, .md)"
// @Param title formData string true "Exam title"
// @Param subject formData string true "Subject"
// @Param difficulty formData string true "Difficulty"
// @Param duration formData int true "Duration in minutes"
// @Param num_questions formData int true "Number of questions"
// @Success 201 {object} models.Exam
// @Failure 400 {object} ErrorResponse
// @Failure 415 {object} ErrorResponse
// @Router /exams/from-file [post]
func (h *ExamHandler) CreateExamFromFile(c *gin.Context) {
	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing file upload",
			Details: err.Error(),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Failed to open upload",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	sourceText, err := h.extractService.Extract(file, fileHeader.Filename)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	req := services.CreateExamRequest{
		Title:        c.PostForm("title"),
		Subject:      c.PostForm("subject"),
		Difficulty:   models.DifficultyLevel(c.PostForm("difficulty")),
		Duration:     parseFormInt(c, "duration"),
		NumQuestions: parseFormInt(c, "num_questions"),
		SourceText:   sourceText,
	}

	exam, err := h.examService.Create(c.Request.Context(), &req, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// GetExam retrieves an exam with its full question set
// @Summary Get exam
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} models.Exam
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.Get(c.Request.Context(), examID, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	questions, err := exam.QuestionSet()
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exam":      exam,
		"questions": questions,
	})
}

// UpdateExam updates draft exam metadata
// @Summary Update exam
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param exam body services.UpdateExamRequest true "Fields to update"
// @Success 200 {object} models.Exam
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id} [put]
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	var req services.UpdateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), examID, &req, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// UpdateQuestion replaces one question in a draft exam
// @Summary Update exam question
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question body models.QuizQuestion true "Question"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/questions [put]
func (h *ExamHandler) UpdateQuestion(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	var question models.QuizQuestion
	if err := c.ShouldBindJSON(&question); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.examService.UpdateQuestion(c.Request.Context(), examID, &question, facultyID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Question updated"})
}

// RemoveQuestion deletes one question from a draft exam
// @Summary Remove exam question
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question_id path string true "Question ID"
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/questions/{question_id} [delete]
func (h *ExamHandler) RemoveQuestion(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	questionID := ParseStringIDParam(c, "question_id")
	if questionID == "" {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.examService.RemoveQuestion(c.Request.Context(), examID, questionID, facultyID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Question removed"})
}

// ApproveExam moves a draft exam to APPROVED
// @Summary Approve exam
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} models.Exam
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/approve [post]
func (h *ExamHandler) ApproveExam(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.Approve(c.Request.Context(), examID, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// ScheduleExam moves an approved exam to SCHEDULED
// @Summary Schedule exam
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param schedule body services.ScheduleExamRequest true "Schedule"
// @Success 200 {object} models.Exam
// @Failure 409 {object} ErrorResponse
// @Router /exams/{id}/schedule [post]
func (h *ExamHandler) ScheduleExam(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	var req services.ScheduleExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.Schedule(c.Request.Context(), examID, &req, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// ListExams lists the faculty member's exams
// @Summary List exams
// @Tags exams
// @Produce json
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Param status query string false "Exam status filter"
// @Success 200 {object} PaginatedResponse
// @Router /exams [get]
func (h *ExamHandler) ListExams(c *gin.Context) {
	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	size := parseIntQuery(c, "size", 10)

	filters := repositories.ExamFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}
	if status := c.Query("status"); status != "" {
		examStatus := models.ExamStatus(status)
		filters.Status = &examStatus
	}

	exams, total, err := h.examService.ListForFaculty(c.Request.Context(), facultyID, filters)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Items: exams,
		Total: total,
		Page:  page,
		Size:  size,
	})
}

// ListOpenExams lists scheduled exams the student may join
// @Summary List open exams
// @Tags exams
// @Produce json
// @Success 200 {array} services.StudentExamSummary
// @Router /exams/open [get]
func (h *ExamHandler) ListOpenExams(c *gin.Context) {
	studentID, ok := currentUserID(c)
	if !ok {
		return
	}

	summaries, err := h.examService.ListOpenForStudent(c.Request.Context(), studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summaries)
}

// ExamResults lists finalized attempts for one exam
// @Summary Exam results
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} PaginatedResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/results [get]
func (h *ExamHandler) ExamResults(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	size := parseIntQuery(c, "size", 20)
	filters := repositories.AttemptFilters{
		Limit:  size,
		Offset: (page - 1) * size,
		SortBy: "score",
	}

	attempts, total, err := h.examService.Results(c.Request.Context(), examID, facultyID, filters)
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

// FacultyAttempts lists finalized attempts across all of the faculty member's exams
// @Summary All exam results for faculty
// @Tags exams
// @Produce json
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} PaginatedResponse
// @Router /exams/attempts [get]
func (h *ExamHandler) FacultyAttempts(c *gin.Context) {
	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	size := parseIntQuery(c, "size", 20)
	filters := repositories.AttemptFilters{
		Limit:  size,
		Offset: (page - 1) * size,
		SortBy: "submitted_at",
	}

	attempts, total, err := h.examService.AllResults(c.Request.Context(), facultyID, filters)
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

// AttemptDetail returns one attempt against the faculty member's exam
// @Summary Attempt detail for faculty
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Param attempt_id path uint true "Attempt ID"
// @Success 200 {object} models.QuizAttempt
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/attempts/{attempt_id} [get]
func (h *ExamHandler) AttemptDetail(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	attemptID := parseIDParam(c, "attempt_id")
	if attemptID == 0 {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	attempt, err := h.examService.AttemptDetail(c.Request.Context(), examID, attemptID, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// ExportResults downloads exam results as a spreadsheet
// @Summary Export exam results
// @Tags exams
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Exam ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/results/export [get]
func (h *ExamHandler) ExportResults(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	facultyID, ok := currentUserID(c)
	if !ok {
		return
	}

	data, err := h.exportService.ExportExamResults(c.Request.Context(), examID, facultyID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("exam-%d-results.xlsx", examID)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func parseFormInt(c *gin.Context, field string) int {
	value, err := strconv.Atoi(c.PostForm(field))
	if err != nil {
		return 0
	}
	return value
}
