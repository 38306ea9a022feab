// Package api serves the sample series and live status over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gravito-framework/pulsar-go/pkg/alert"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const (
	DefaultLimit = 30
	MaxLimit     = 1000
)

// LatestSource provides the most recent sample
type LatestSource interface {
	Latest() (types.Sample, bool)
}

// HostSource provides host facts
type HostSource interface {
	Host(ctx context.Context) (*types.HostInfo, error)
}

// SampleQuerier reads the persisted series
type SampleQuerier interface {
	QueryRecent(ctx context.Context, n int) ([]types.Sample, error)
}

// AlertStates exposes per-metric alert state
type AlertStates interface {
	States() map[alert.Metric]alert.State
}

// Deps are the read-only views the handlers need. Host, Alerts and Metrics are optional.
type Deps struct {
	Latest  LatestSource
	Host    HostSource
	Store   SampleQuerier
	Alerts  AlertStates
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server wraps a gin engine and its http.Server
type Server struct {
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router; call Start to listen
func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.logger), cors())

	engine.GET("/", s.index)
	engine.GET("/health", s.health)
	engine.GET("/status", s.status)
	engine.GET("/metrics", s.metrics)

	system := engine.Group("/api/system")
	system.GET("/current", s.current)
	system.GET("/cpu", s.cpu)
	system.GET("/memory", s.memory)
	system.GET("/sensors", s.sensors)

	if deps.Metrics != nil {
		engine.GET("/metrics/prometheus", gin.WrapH(deps.Metrics))
	}

	s.engine = engine
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background. Errors after startup are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("🌐 HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// endpoints is the route list served by the index
var endpoints = []string{
	"GET /health",
	"GET /status",
	"GET /metrics?limit=N",
	"GET /api/system/current",
	"GET /api/system/cpu",
	"GET /api/system/memory",
	"GET /api/system/sensors",
}

func (s *Server) index(c *gin.Context) {
	list := endpoints
	if s.deps.Metrics != nil {
		list = append(append([]string{}, endpoints...), "GET /metrics/prometheus")
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      "pulsar",
		"status":    "running",
		"timestamp": time.Now().UnixMilli(),
		"endpoints": list,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) current(c *gin.Context) {
	sample, ok := s.deps.Latest.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sample collected yet"})
		return
	}
	c.JSON(http.StatusOK, sample)
}

// latestOr503 writes 503 and returns false when nothing was sampled yet
func (s *Server) latestOr503(c *gin.Context) (types.Sample, bool) {
	sample, ok := s.deps.Latest.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sample collected yet"})
	}
	return sample, ok
}

// hostInfo returns nil when host facts are not configured or unavailable
func (s *Server) hostInfo(c *gin.Context) *types.HostInfo {
	if s.deps.Host == nil {
		return nil
	}
	info, err := s.deps.Host.Host(c.Request.Context())
	if err != nil {
		s.logger.Warn("Host facts unavailable", "error", err)
		return nil
	}
	return info
}

func (s *Server) cpu(c *gin.Context) {
	sample, ok := s.latestOr503(c)
	if !ok {
		return
	}

	resp := gin.H{
		"timestamp": sample.Timestamp.UnixMilli(),
		"usage":     sample.CPUPercent,
		"frequency": sample.FrequencyGHz,
	}
	if info := s.hostInfo(c); info != nil {
		resp["logical_cores"] = info.LogicalCores
		resp["physical_cores"] = info.PhysicalCores
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) memory(c *gin.Context) {
	sample, ok := s.latestOr503(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":    sample.Timestamp.UnixMilli(),
		"total":        sample.MemoryTotal,
		"used":         sample.MemoryUsed,
		"available":    sample.MemoryTotal - min(sample.MemoryUsed, sample.MemoryTotal),
		"percent":      sample.MemoryPercent(),
		"swap_total":   sample.SwapTotal,
		"swap_used":    sample.SwapUsed,
		"swap_percent": sample.SwapPercent(),
	})
}

func (s *Server) sensors(c *gin.Context) {
	sample, ok := s.latestOr503(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":          sample.Timestamp.UnixMilli(),
		"cpu_temp":           sample.Temperature,
		"cpu_temp_source":    sample.TemperatureSource,
		"cpu_temp_available": sample.Temperature != nil,
	})
}

func (s *Server) status(c *gin.Context) {
	sample, ok := s.latestOr503(c)
	if !ok {
		return
	}

	resp := gin.H{
		"timestamp":       sample.Timestamp.UnixMilli(),
		"cpu":             sample.CPUPercent,
		"memory_total":    sample.MemoryTotal,
		"memory_used":     sample.MemoryUsed,
		"memory_percent":  sample.MemoryPercent(),
		"disk_usage":      sample.DiskPercent,
		"swap_total":      sample.SwapTotal,
		"swap_used":       sample.SwapUsed,
		"cpu_temp":        sample.Temperature,
		"cpu_temp_source": sample.TemperatureSource,
		"cpu_freq":        sample.FrequencyGHz,
	}

	if info := s.hostInfo(c); info != nil {
		resp["hostname"] = info.Hostname
		resp["platform"] = info.Platform
		resp["uptime"] = info.UptimeSeconds
		resp["processes"] = info.Processes
		resp["cores"] = info.LogicalCores
		resp["physical_cores"] = info.PhysicalCores
	}
	if s.deps.Alerts != nil {
		resp["alerts"] = s.deps.Alerts.States()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) metrics(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples, err := s.deps.Store.QueryRecent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to query samples", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query samples"})
		return
	}
	c.JSON(http.StatusOK, samples)
}

// parseLimit defaults to DefaultLimit and clamps to MaxLimit
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if n > MaxLimit {
		n = MaxLimit
	}
	return n, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			logger.Error("HTTP request completed with server error", args...)
		case status >= 400:
			logger.Warn("HTTP request completed with client error", args...)
		default:
			logger.Debug("HTTP request completed", args...)
		}
	}
}

// cors allows any origin; the dashboard is served from elsewhere
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
