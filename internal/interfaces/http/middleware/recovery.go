package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"tale-weaver-api/internal/interfaces/http/dto"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/logger"
)

// Sentry 为每个请求挂载 Sentry Hub 并上报 panic 后重新抛出；未初始化 Sentry 时事件被丢弃
func Sentry() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// Recovery Panic 恢复中间件，需先于 Sentry 注册以接住重新抛出的 panic
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", rec),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
					Code:    http.StatusInternalServerError,
					Message: apperrors.ErrInternalError.Message,
					TraceID: c.GetString("trace_id"),
				})
			}
		}()
		c.Next()
	}
}
