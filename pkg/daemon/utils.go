package daemon

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger routes gin request logs through logrus.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handlers can change c.Path so:
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start).Milliseconds()
		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"status":  status,
			"latency": latency, // time to process, ms
			"method":  c.Request.Method,
			"path":    path,
			"bytes":   size,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		} else {
			msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, status, latency)
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error(msg)
			case status >= http.StatusBadRequest:
				entry.Warn(msg)
			default:
				entry.Debug(msg)
			}
		}
	}
}

// parseLimitQuery reads ?limit=, falling back to def when absent or junk.
func parseLimitQuery(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// parsePathID reads the :id path parameter, answering the request itself
// when the value is not a number.
func parsePathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortBadRequest(c, fmt.Errorf("id %q is not a number", c.Param("id")))
		return 0, false
	}
	return id, true
}
