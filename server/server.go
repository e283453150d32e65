// Package server exposes the operational HTTP endpoint of the ingest worker.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"QFMIngest/core/worker"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"
	"QFMIngest/repository"

	"github.com/gorilla/mux"
)

// PoolStats is the view of the worker pool the endpoint reports.
type PoolStats interface {
	Stats() map[model.WorkKind]worker.KindStats
	Busy() int
}

// Deps 运维接口依赖
type Deps struct {
	Database repository.Database
	Leaser   lease.Leaser
	Pool     PoolStats // nil when no pool runs in this process
	// Ping checks the database connection.
	Ping func(ctx context.Context) error
}

// Server 运维 HTTP 服务
type Server struct {
	deps    Deps
	started time.Time
	http    *http.Server
}

// New 创建运维服务
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps, started: time.Now()}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router builds the gorilla/mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLog)
	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	router.HandleFunc("/tracks/{id}", s.trackHandler).Methods(http.MethodGet)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server starting", logger.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// 创建一个5秒超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("ops server stopped")
	return nil
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("ops request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("elapsed", time.Since(start)))
	})
}
