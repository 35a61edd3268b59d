package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/cache"
	"github.com/skillify-edu/exam-service/internal/config"
	"github.com/skillify-edu/exam-service/internal/generation"
	"github.com/skillify-edu/exam-service/internal/handlers"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/repositories/postgres"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
	"github.com/skillify-edu/exam-service/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var appLogger utils.Logger
	if cfg.Environment == "production" {
		appLogger = utils.NewDefaultLogger()
	} else {
		appLogger = utils.NewDevelopmentLogger()
	}
	slogger := utils.ToSlogLogger(appLogger)

	slogger.Info("Starting exam service",
		"port", cfg.Port,
		"environment", cfg.Environment)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		slogger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Exam{}, &models.QuizAttempt{}); err != nil {
		slogger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := pkg.NewRedisClient(cfg)
	if err != nil {
		slogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	publisher, err := cfg.Events.CreateEventPublisher(slogger)
	if err != nil {
		slogger.Error("Failed to create event publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	handlers.InitAuth(cfg)

	repo := postgres.NewRepository(db)
	cacheService := cache.NewRedisCache(redisClient, appLogger)
	validator := utils.NewValidator()

	generator := services.NewGenerationService(
		generation.NewClient(cfg.GenerationURL, cfg.GenerationAPIKey),
		slogger, validator)
	attemptService := services.NewAttemptService(repo, generator, cacheService, publisher, slogger, validator)
	proctorService := services.NewProctorService(repo, attemptService, cacheService, publisher, slogger, validator)
	examService := services.NewExamService(repo, generator, publisher, slogger, validator)
	exportService := services.NewExportService(repo, slogger)
	extractService := services.NewTextExtractionService(slogger)
	userService := services.NewUserService(repo, slogger)

	secLogger := services.NewServiceLogger(slogger, services.LogConfig{
		Service:   "exam-service",
		Component: "proctoring",
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(appLogger))
	router.Use(utils.ContextLogger(appLogger))

	manager := handlers.NewHandlerManager(
		examService,
		attemptService,
		proctorService,
		exportService,
		extractService,
		userService,
		secLogger,
		validator,
		appLogger,
	)
	manager.SetupRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slogger.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("HTTP server shutdown error", "error", err)
	}

	slogger.Info("Shutdown complete")
}
