package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"craftworker/core/auth"
	"craftworker/core/transcode"
	"craftworker/logger"
	"craftworker/model"
)

// Runner executes transcoding jobs.
type Runner interface {
	Run(ctx context.Context, req model.JobRequest, sink transcode.ProgressSink) model.Ack
	Current() model.JobSnapshot
	Busy() bool
}

// EventBus routes kill requests and mirrors progress.
type EventBus interface {
	RequestKill(ctx context.Context, jobID string) (bool, error)
	Sink(ctx context.Context, next transcode.ProgressSink) transcode.ProgressSink
}

// Server exposes the worker over HTTP and websocket.
type Server struct {
	runner   Runner
	bus      EventBus
	verifier *auth.Verifier
	log      *zap.Logger
}

// New creates a Server. A nil verifier leaves the endpoints open.
func New(runner Runner, bus EventBus, verifier *auth.Verifier) *Server {
	return &Server{
		runner:   runner,
		bus:      bus,
		verifier: verifier,
		log:      logger.Named("server"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1/jobs").Subrouter()
	api.HandleFunc("/ws", s.authMiddleware(s.jobSocketHandler))
	api.HandleFunc("/current", s.authMiddleware(s.currentJobHandler)).Methods(http.MethodGet)
	api.HandleFunc("/{jobId}/kill", s.authMiddleware(s.killJobHandler)).Methods(http.MethodPost)

	return router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("Server stopped")
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
