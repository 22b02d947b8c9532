package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/ledger"
	"github.com/loykin/dbmigrate/internal/metrics"
	"github.com/loykin/dbmigrate/internal/task"
)

// Server exposes GET /healthz, GET /status and the metrics endpoint.
type Server struct {
	ledger  *ledger.Ledger
	tasks   []*task.Task
	metrics *metrics.Collector
	engine  *gin.Engine
	logger  *common.Logger
}

// NewServer builds the router. collector may be nil, in which case the
// metrics path answers 404.
func NewServer(l *ledger.Ledger, tasks []*task.Task, collector *metrics.Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		ledger:  l,
		tasks:   tasks,
		metrics: collector,
		engine:  gin.New(),
		logger:  common.GetLogger().WithComponent("status"),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET(constants.DefaultMetricsPath, gin.WrapH(collector.Handler()))
	return s
}

func (s *Server) handleStatus(c *gin.Context) {
	r, err := Build(c.Request.Context(), s.ledger, s.tasks)
	if err != nil {
		s.logger.Error("failed to build status report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	code := http.StatusOK
	if c.Query("strict") == "true" && !r.UpToDate() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, r)
}

func (s *Server) Handler() http.Handler {
	return s.engine.Handler()
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
