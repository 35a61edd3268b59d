package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
)

type HandlerManager struct {
	examHandler    *ExamHandler
	attemptHandler *AttemptHandler
	proctorHandler *ProctorHandler
	userService    services.UserService
	logger         utils.Logger
}

func NewHandlerManager(
	examService services.ExamService,
	attemptService services.AttemptService,
	proctorService services.ProctorService,
	exportService services.ExportService,
	extractService services.TextExtractionService,
	userService services.UserService,
	secLogger *services.ServiceLogger,
	validator *utils.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		examHandler:    NewExamHandler(examService, exportService, extractService, validator, logger),
		attemptHandler: NewAttemptHandler(attemptService, validator, logger),
		proctorHandler: NewProctorHandler(proctorService, secLogger, validator, logger),
		userService:    userService,
		logger:         logger,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-service",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(hm.userService, hm.logger))
	{
		// Faculty exam management
		exams := v1.Group("/exams")
		{
			// Student-facing listing goes first so role gating below only
			// covers the faculty surface.
			exams.GET("/open", RequireRole(models.RoleStudent), hm.examHandler.ListOpenExams)

			faculty := exams.Group("")
			faculty.Use(RequireRole(models.RoleFaculty))
			{
				faculty.POST("", hm.examHandler.CreateExam)
				faculty.POST("/from-file", hm.examHandler.CreateExamFromFile)
				faculty.GET("", hm.examHandler.ListExams)
				faculty.GET("/attempts", hm.examHandler.FacultyAttempts)
				faculty.GET("/:id", hm.examHandler.GetExam)
				faculty.PUT("/:id", hm.examHandler.UpdateExam)
				faculty.PUT("/:id/questions", hm.examHandler.UpdateQuestion)
				faculty.DELETE("/:id/questions/:question_id", hm.examHandler.RemoveQuestion)
				faculty.POST("/:id/approve", hm.examHandler.ApproveExam)
				faculty.POST("/:id/schedule", hm.examHandler.ScheduleExam)
				faculty.GET("/:id/results", hm.examHandler.ExamResults)
				faculty.GET("/:id/results/export", hm.examHandler.ExportResults)
				faculty.GET("/:id/attempts/:attempt_id", hm.examHandler.AttemptDetail)
			}
		}

		// Attempt lifecycle
		attempts := v1.Group("/attempts")
		attempts.Use(RequireRole(models.RoleStudent))
		{
			attempts.POST("/exams/:exam_id/start", hm.attemptHandler.StartScheduledAttempt)
			attempts.POST("/custom", hm.attemptHandler.StartCustomQuiz)
			attempts.POST("/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.PUT("/:id/answers", hm.attemptHandler.RecordAnswers)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
		}

		// Proctoring signals
		proctoring := v1.Group("/proctoring")
		proctoring.Use(RequireRole(models.RoleStudent))
		{
			proctoring.POST("/attempts/:id/tab-switch", hm.proctorHandler.RegisterTabSwitch)
			proctoring.POST("/face-check", hm.proctorHandler.FaceCheck)
			proctoring.PUT("/face", hm.proctorHandler.RegisterFace)
		}
	}
}
