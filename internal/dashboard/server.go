package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"polyflow/config"
	"polyflow/logger"
	"polyflow/reconciler"
)

// Server exposes the reconciled market state over a read-only HTTP JSON API.
// It never mutates state; consumers poll it and render however they like.
type Server struct {
	cfg config.DashboardConfig
	log *logger.Log

	mu     sync.RWMutex
	states map[string]*reconciler.State

	httpServer *http.Server
}

// NewServer constructs the view server when the dashboard feature is enabled.
// When disabled the returned server is nil and all methods are no-ops.
func NewServer(cfg config.DashboardConfig, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.ListenAddr = normalizeAddress(cfg.ListenAddr)
	return &Server{
		cfg:    cfg,
		log:    log,
		states: make(map[string]*reconciler.State),
	}
}

// Register adds a market state to the view registry, keyed by condition id
// and, when present, slug.
func (s *Server) Register(state *reconciler.State) {
	if s == nil || state == nil {
		return
	}
	m := state.Market()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[m.ConditionID] = state
	if m.Slug != "" {
		s.states[m.Slug] = state
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.ListenAddr,
	}).Info("starting view server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.ListenAddr
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/view", func(c *gin.Context) {
		state := s.lookup(c.Query("market"))
		if state == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown market"})
			return
		}
		c.JSON(http.StatusOK, state.View())
	})

	router.GET("/markets", func(c *gin.Context) {
		s.mu.RLock()
		seen := make(map[string]bool, len(s.states))
		payload := make([]gin.H, 0, len(s.states))
		for _, state := range s.states {
			m := state.Market()
			if seen[m.ConditionID] {
				continue
			}
			seen[m.ConditionID] = true
			payload = append(payload, gin.H{
				"condition_id": m.ConditionID,
				"slug":         m.Slug,
				"question":     m.Question,
			})
		}
		s.mu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"markets": payload})
	})

	return router
}

// lookup resolves a view by condition id or slug. An empty key matches a
// registry holding exactly one market.
func (s *Server) lookup(key string) *reconciler.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key != "" {
		return s.states[key]
	}
	var only *reconciler.State
	for _, state := range s.states {
		if only != nil && only != state {
			return nil
		}
		only = state
	}
	return only
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8089"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8089"
		}
		return net.JoinHostPort(host, port)
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8089")
	}
	return addr
}
