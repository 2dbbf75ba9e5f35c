package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pgexec/internal/api/middleware"
	"github.com/GriffinCanCode/pgexec/internal/catalog"
	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
	"github.com/GriffinCanCode/pgexec/internal/shared/id"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

// maxBodyBytes leaves room for JSON escaping around the largest script
const maxBodyBytes = 2 * engine.MaxCodeBytes

// Engine is the part of engine.Engine the handlers use
type Engine interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Execution, error)
	Get(execID id.ExecutionID) (*engine.Execution, bool)
	Recent(n int) []*engine.Execution
	Stats() engine.Stats
	Capabilities() map[string][]string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	engine  Engine
	metrics *monitoring.Metrics
	root    string
	logger  *zap.Logger
}

// NewHandlers creates a new handler set. root is the global scripts see
// their bindings under.
func NewHandlers(eng Engine, metrics *monitoring.Metrics, root string, logger *zap.Logger) *Handlers {
	if root == "" {
		root = sandbox.DefaultBindingsRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{engine: eng, metrics: metrics, root: root, logger: logger}
}

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	router.GET("/metrics/json", h.MetricsJSON)

	v1 := router.Group("/v1")
	v1.POST("/execute", h.Execute)
	v1.GET("/executions", h.ListExecutions)
	v1.GET("/executions/:id", h.GetExecution)
	v1.GET("/pool", h.Pool)
	v1.GET("/capabilities", h.Capabilities)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "pgexec",
		"version": Version,
	})
}

// Health reports pool utilization
func (h *Handlers) Health(c *gin.Context) {
	stats := h.engine.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"defaultMode": stats.DefaultMode,
		"pools":       stats.Pools,
		"breakers":    stats.Breakers,
	})
}

// MetricsJSON returns the running metric totals
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// Execute runs a script. Script failures return 200 with success=false;
// only requests the engine refuses produce error statuses.
func (h *Handlers) Execute(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	exec, err := h.engine.Execute(c.Request.Context(), req)
	if err != nil {
		status := executeStatus(err)
		if status == http.StatusTooManyRequests {
			c.Header("Retry-After", "1")
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("Execute failed",
				zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, exec)
}

// ListExecutions returns recent executions, newest first
func (h *Handlers) ListExecutions(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, gin.H{"executions": h.engine.Recent(limit)})
}

// GetExecution returns one recent execution
func (h *Handlers) GetExecution(c *gin.Context) {
	raw := c.Param("id")
	if !id.IsValid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	exec, ok := h.engine.Get(id.ExecutionID(raw))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// Pool reports pool utilization and latency
func (h *Handlers) Pool(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

// Capabilities lists what scripts can call
func (h *Handlers) Capabilities(c *gin.Context) {
	shape := h.engine.Capabilities()
	c.JSON(http.StatusOK, gin.H{
		"root":   h.root,
		"groups": shape,
		"tools":  catalog.Tools(shape),
	})
}

func executeStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyCode),
		errors.Is(err, engine.ErrCodeTooLarge),
		errors.Is(err, engine.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, sandbox.ErrPoolExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, sandbox.ErrPoolDisposed),
		errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
