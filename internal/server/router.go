// Package server is the REST control plane: aggregate health, per-service
// runtime status, start/stop controls, windowed metric summaries, breaker
// introspection, and the prometheus scrape endpoint.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/service"
	"github.com/mirrorlake/warden/internal/supervisor"
)

// Router provides embeddable HTTP handlers over a running supervisor.
// Endpoints under basePath:
//
//	GET  /health                   aggregate health report
//	GET  /services                 every service's runtime status
//	GET  /services/:name           one service's runtime status
//	POST /services/:name/start
//	POST /services/:name/stop
//	GET  /breakers                 circuit breaker states
//	GET  /summary?window=5m        windowed metric summaries
//	GET  /metrics                  prometheus scrape endpoint
type Router struct {
	sup       *supervisor.Supervisor
	manager   *health.Manager
	collector *metrics.Collector
	breakers  []*breaker.Breaker
	basePath  string
}

func NewRouter(sup *supervisor.Supervisor, manager *health.Manager, collector *metrics.Collector, breakers []*breaker.Breaker, basePath string) *Router {
	return &Router{
		sup:       sup,
		manager:   manager,
		collector: collector,
		breakers:  breakers,
		basePath:  sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/services", r.handleServices)
	group.GET("/services/:name", r.handleService)
	group.POST("/services/:name/start", r.handleStart)
	group.POST("/services/:name/stop", r.handleStop)
	group.GET("/breakers", r.handleBreakers)
	group.GET("/summary", r.handleSummary)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control plane listen failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealth(c *gin.Context) {
	rep := r.manager.RunAll(c.Request.Context())
	code := http.StatusOK
	if rep.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, rep)
}

func (r *Router) handleServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Statuses())
}

func (r *Router) handleService(c *gin.Context) {
	name := c.Param("name")
	if !service.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	st, err := r.sup.Status(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	if !service.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if err := r.sup.StartService(c.Request.Context(), name); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, service.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	if !service.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if err := r.sup.StopService(c.Request.Context(), name); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, service.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleBreakers(c *gin.Context) {
	out := make([]breaker.Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleSummary(c *gin.Context) {
	window := 5 * time.Minute
	if ws := c.Query("window"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil || d <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid window: want a positive duration like 5m"})
			return
		}
		window = d
	}
	writeJSON(c, http.StatusOK, r.collector.Summary(window))
}
