// Package api exposes the HTTP surface: cached history reads, job triggering,
// status polling and a server-sent-events stream of job progress.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/app/status"
	"github.com/Furkan-rgb/loltimeanalysis/internal/app/trigger"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/otel"
)

// HistoryReader reads the durable result cache.
type HistoryReader interface {
	Read(ctx context.Context, cacheKey string) ([]matchhistory.MatchRecord, error)
}

// Server hosts the HTTP API.
type Server struct {
	addr    string
	logger  *logger.Logger
	router  *chi.Mux
	tracer  trace.Tracer
	trigger *trigger.Service
	status  *status.Reader
	history HistoryReader

	// streamPoll is how often the SSE stream re-reads the snapshot.
	streamPoll time.Duration
}

// NewServer builds the API server with its routes and middleware bound.
func NewServer(
	addr string,
	log *logger.Logger,
	tracer trace.Tracer,
	triggerSvc *trigger.Service,
	statusReader *status.Reader,
	history HistoryReader,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		logger:     log,
		router:     r,
		tracer:     tracer,
		trigger:    triggerSvc,
		status:     statusReader,
		history:    history,
		streamPoll: 500 * time.Millisecond,
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Get("/history/{name}/{tag}", s.handleHistory)
		r.Post("/update/{name}/{tag}", s.handleUpdate)
		r.Get("/status/{name}/{tag}", s.handleStatus)
		r.Get("/status/{name}/{tag}/stream", s.handleStatusStream)
	})
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until ctx is canceled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "Failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting server", "addr", server.Addr)
	return server.ListenAndServe()
}
