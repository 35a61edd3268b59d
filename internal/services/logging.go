package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ServiceLogger provides structured logging for service layer operations
type ServiceLogger struct {
	logger *slog.Logger
	config LogConfig
}

type LogConfig struct {
	Service     string
	Component   string
	EnableDebug bool
}

func NewServiceLogger(logger *slog.Logger, config LogConfig) *ServiceLogger {
	return &ServiceLogger{
		logger: logger.With("service", config.Service, "component", config.Component),
		config: config,
	}
}

// ===== OPERATION LOGGING =====

func (l *ServiceLogger) LogOperation(ctx context.Context, operation string, userID string, resourceID uint, resourceType string, duration time.Duration, err error) {
	level := slog.LevelInfo
	status := "success"

	if err != nil {
		level = slog.LevelError
		status = "error"

		if IsValidation(err) || IsBusinessRule(err) {
			level = slog.LevelWarn
			status = "validation_error"
		} else if IsUnauthorized(err) {
			level = slog.LevelWarn
			status = "unauthorized"
		} else if IsConflict(err) {
			level = slog.LevelWarn
			status = "conflict"
		} else if IsNotFound(err) {
			level = slog.LevelInfo
			status = "not_found"
		}
	}

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.Uint64("resource_id", uint64(resourceID)),
		slog.String("resource_type", resourceType),
		slog.String("status", status),
		slog.Duration("duration", duration),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if validationErr, ok := err.(ValidationErrors); ok {
			attrs = append(attrs, slog.Int("validation_errors_count", len(validationErr)))
		} else if businessErr, ok := err.(*BusinessRuleError); ok {
			attrs = append(attrs, slog.String("business_rule", businessErr.Rule))
		}
	}

	if requestID := ctx.Value("request_id"); requestID != nil {
		attrs = append(attrs, slog.String("request_id", requestID.(string)))
	}

	message := fmt.Sprintf("%s operation %s", operation, status)
	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// ===== SECURITY LOGGING =====

type SecurityEventType string
type SecuritySeverity string

const (
	SecurityEventProctorWarning    SecurityEventType = "proctor_warning"
	SecurityEventProctorViolation  SecurityEventType = "proctor_violation"
	SecurityEventFaceMismatch      SecurityEventType = "face_mismatch"
	SecurityEventUnauthorizedCheck SecurityEventType = "unauthorized_access"

	SecuritySeverityLow    SecuritySeverity = "low"
	SecuritySeverityMedium SecuritySeverity = "medium"
	SecuritySeverityHigh   SecuritySeverity = "high"
)

type SecurityEvent struct {
	Type        SecurityEventType      `json:"type"`
	Severity    SecuritySeverity       `json:"severity"`
	UserID      string                 `json:"user_id"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (l *ServiceLogger) LogSecurityEvent(ctx context.Context, event SecurityEvent) {
	level := slog.LevelWarn
	if event.Severity == SecuritySeverityHigh {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("security_event", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("user_id", event.UserID),
		slog.String("description", event.Description),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}

	if event.Metadata != nil {
		for key, value := range event.Metadata {
			attrs = append(attrs, slog.Any(fmt.Sprintf("meta_%s", key), value))
		}
	}

	l.logger.LogAttrs(ctx, level, fmt.Sprintf("Security: %s", event.Description), attrs...)
}
