package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func RunIDValidator() gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")

		// Validate UUID format
		parsedID, err := uuid.Parse(runID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": "invalid run identifier format",
			})
			return
		}
		c.Set("run_id", parsedID)
		c.Next()
	}
}
