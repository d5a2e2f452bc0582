package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zack-mcginnis/drone-video-analysis-server/internal/auth"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/response"
)

const (
	// ContextOperatorID is the key for operator ID in gin context.
	ContextOperatorID = "operator_id"
	// ContextOperatorRole is the key for operator role in gin context.
	ContextOperatorRole = "operator_role"
)

// JWT returns a middleware that validates JWT and sets operator claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextOperatorID, claims.OperatorID)
		c.Set(ContextOperatorRole, claims.Role)
		c.Next()
	}
}
