package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CronAuthMiddleware guards the scheduled entry points with the shared-secret
// bearer header the external scheduler sends.
func CronAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader("Authorization") != "Bearer "+secret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
