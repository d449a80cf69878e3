package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records read operations that services do not audit themselves, such as
// report exports. Only successful requests are written.
func Audit(repo AuditWriter, logger *zap.Logger, action models.AuditAction, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if repo == nil || c.Writer.Status() >= 400 {
			return
		}
		claims, ok := Claims(c)
		if !ok {
			return
		}

		raw, _ := json.Marshal(map[string]interface{}{
			"path":       c.FullPath(),
			"query":      c.Request.URL.RawQuery,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		})
		body := string(raw)
		if err := repo.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			ActorID:   claims.UserID,
			Action:    action,
			Resource:  resource,
			NewValues: &body,
		}); err != nil && logger != nil {
			logger.Warn("failed to record request audit", zap.String("resource", resource), zap.Error(err))
		}
	}
}
