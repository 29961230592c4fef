package handler

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/apperror"
)

const (
	HeaderOrganization = "X-Organization-ID"
	HeaderOperator     = "X-Operator-ID"

	ctxOrganization = "organization_id"
	ctxOperator     = "operator_id"
)

// RequireOrganization rejects requests without an organization header.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := strings.TrimSpace(c.GetHeader(HeaderOrganization))
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    apperror.CodeValidation,
				"message": HeaderOrganization + " header required",
			}})
			return
		}
		c.Set(ctxOrganization, org)
		c.Set(ctxOperator, strings.TrimSpace(c.GetHeader(HeaderOperator)))
		c.Next()
	}
}

func Organization(c *gin.Context) string {
	return c.GetString(ctxOrganization)
}

func Operator(c *gin.Context) string {
	return c.GetString(ctxOperator)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if org := Organization(c); org != "" {
			fields = append(fields, zap.String("organization_id", org))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}

// Recovery turns a panic into a 500 response.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in HTTP handler",
					zap.String("path", c.FullPath()),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
					"code":    apperror.CodeInternal,
					"message": "internal server error",
				}})
			}
		}()
		c.Next()
	}
}
