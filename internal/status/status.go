// Package status serves a small HTTP surface describing a running session.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/chatlink/internal/observability"
	"github.com/danmuck/chatlink/internal/session"
	logs "github.com/danmuck/smplog"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "0.1.0"

// Source reports the current session state.
type Source interface {
	Snapshot() session.Snapshot
}

type Server struct {
	Addr     string
	Appeared time.Time

	src    Source
	router *gin.Engine
}

func New(addr string, corsOrigins []string, src Source) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(observability.ComponentLogger("status"), "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Appeared: time.Now(),
		src:      src,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		snap := s.src.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"state":     snap.State,
			"transport": snap.Transport,
			"version":   Version,
		})
	})

	// ready answers 503 until the handshake has completed.
	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.src.Snapshot()
		code := http.StatusOK
		ready := snap.State == session.StateReady.String()
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": ready, "state": snap.State})
	})

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.src.Snapshot())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logs.Infof("status: listening addr=%s", s.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
