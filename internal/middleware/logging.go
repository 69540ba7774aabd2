package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// Logger middleware logs request details and records request metrics. It
// keeps the caller's request ID or assigns one, and echoes it back.
func Logger(logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Nop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		latency := time.Since(start)

		// Route templates keep the label set bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), latency.Seconds())
		logger.WithRequestID(requestID).LogHTTPRequest(c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), latency)
	}
}
