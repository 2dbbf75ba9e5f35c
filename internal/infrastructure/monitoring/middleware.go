package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a capability call
type Timer struct {
	start   time.Time
	metrics *Metrics
	group   string
	method  string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, group, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		group:   group,
		method:  method,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	t.metrics.RecordCapabilityCall(t.group, t.method, status, time.Since(t.start))
}
