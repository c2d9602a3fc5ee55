// Package debugserver is an opt-in HTTP introspection surface over a
// running cluster coordinator: topology, slot balance, and Prometheus
// metrics, for operators to point a browser or curl at. Nothing in the
// client core starts this on its own.
package debugserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valkeygo/valkeygo/cluster"
	"github.com/valkeygo/valkeygo/internal/metrics"
)

// Server wraps a gin engine exposing read-only views of a Coordinator.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// nodeFilter binds the optional "role" query filter on /health, validated
// by gin's struct-tag binding (go-playground/validator underneath).
type nodeFilter struct {
	Role string `form:"role" binding:"omitempty,oneof=primary replica"`
}

// New builds a debug server for coordinator listening on addr.
func New(coordinator *cluster.Coordinator, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		var filter nodeFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h := coordinator.Health()
		if filter.Role != "" {
			filtered := h.Nodes[:0]
			for _, n := range h.Nodes {
				if n.Role == filter.Role {
					filtered = append(filtered, n)
				}
			}
			h.Nodes = filtered
		}
		c.JSON(http.StatusOK, h)
	})

	engine.GET("/balance", func(c *gin.Context) {
		c.JSON(http.StatusOK, coordinator.BalanceReport())
	})

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run starts serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
