package handlers

import (
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/skillify-edu/exam-service/internal/config"
	"github.com/skillify-edu/exam-service/internal/models"
	"github.com/skillify-edu/exam-service/internal/services"
	"github.com/skillify-edu/exam-service/internal/utils"
)

// InitAuth configures the Casdoor SDK from service config. Must be called
// once before AuthMiddleware is installed.
func InitAuth(cfg *config.Config) {
	casdoorsdk.InitConfig(
		cfg.CasdoorEndpoint,
		cfg.CasdoorClientID,
		cfg.CasdoorClientSecret,
		cfg.CasdoorCertificate,
		cfg.CasdoorOrganization,
		cfg.CasdoorApplication,
	)
}

// AuthMiddleware validates the bearer token, mirrors the subject into the
// local users table and stores the subject's id and role in the request
// context.
func AuthMiddleware(users services.UserService, logger utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Missing bearer token",
			})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := casdoorsdk.ParseJwtToken(token)
		if err != nil {
			logger.Warn("Rejected invalid token",
				"path", c.Request.URL.Path,
				"error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Invalid or expired token",
			})
			return
		}

		role := roleFromClaims(claims)
		if err := users.SyncIdentity(c.Request.Context(), services.Identity{
			ID:       claims.User.Id,
			FullName: claims.User.DisplayName,
			Email:    claims.User.Email,
			Role:     role,
		}); err != nil {
			// Sync failures never block the request, the token already
			// proved who the caller is.
			logger.Warn("Failed to sync user identity",
				"user_id", claims.User.Id,
				"error", err)
		}

		c.Set("user_id", claims.User.Id)
		c.Set("user_role", role)
		c.Next()
	}
}

// RequireRole gates a route group to one role. Admins pass every gate.
func RequireRole(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("user_role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Role not established",
			})
			return
		}
		current, ok := value.(models.UserRole)
		if !ok || (current != role && current != models.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Insufficient role",
			})
			return
		}
		c.Next()
	}
}

func roleFromClaims(claims *casdoorsdk.Claims) models.UserRole {
	if claims.User.IsAdmin {
		return models.RoleAdmin
	}
	for _, r := range claims.User.Roles {
		switch r.Name {
		case string(models.RoleFaculty):
			return models.RoleFaculty
		case string(models.RoleAdmin):
			return models.RoleAdmin
		}
	}
	return models.RoleStudent
}
