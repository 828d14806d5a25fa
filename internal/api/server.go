// Package api exposes the HTTP interface: reporting views over the crawled
// data plus a manual crawl trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/config"
	"github.com/JakeFAU/repost-crawler/internal/crawler"
	"github.com/JakeFAU/repost-crawler/internal/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Pinger reports persistence health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TriggerFunc runs one crawl invocation on demand.
type TriggerFunc func(ctx context.Context) (crawler.Execution, error)

// Server wires HTTP handlers to the read store and the crawl trigger.
type Server struct {
	router  chi.Router
	reads   crawler.ReadStore
	pinger  Pinger
	trigger TriggerFunc
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	reads crawler.ReadStore,
	pinger Pinger,
	trigger TriggerFunc,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		reads:   reads,
		pinger:  pinger,
		trigger: trigger,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/questions", func(r chi.Router) {
			r.Get("/", s.latestQuestions)
			r.Get("/search", s.searchQuestions)
		})
		r.Get("/tags/statistics", s.tagStatistics)
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.recentExecutions)
			r.Get("/daily", s.dailyStatistics)
			r.Get("/failed", s.failedExecutions)
			r.Get("/summary", s.executionSummary)
		})
		r.Post("/crawl", s.runCrawl)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestQuestions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultListLimit)
	lang := crawler.Language("")
	if code := r.URL.Query().Get("language"); code != "" {
		parsed, err := crawler.ParseLanguage(code)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown language")
			return
		}
		lang = parsed
	}
	questions, err := s.reads.LatestQuestions(r.Context(), limit, lang)
	if err != nil {
		s.serverError(w, "latest questions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (s *Server) searchQuestions(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	questions, err := s.reads.SearchQuestions(r.Context(), term, queryLimit(r, 50))
	if err != nil {
		s.serverError(w, "search questions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (s *Server) tagStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reads.TagStatistics(r.Context())
	if err != nil {
		s.serverError(w, "tag statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": stats})
}

func (s *Server) recentExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.reads.RecentExecutions(r.Context(), queryLimit(r, defaultListLimit))
	if err != nil {
		s.serverError(w, "recent executions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) failedExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.reads.FailedExecutions(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.serverError(w, "failed executions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) dailyStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reads.DailyStatistics(r.Context(), queryLimit(r, 30))
	if err != nil {
		s.serverError(w, "daily statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": stats})
}

func (s *Server) executionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reads.ExecutionSummary(r.Context())
	if err != nil {
		s.serverError(w, "execution summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// runCrawl triggers one invocation synchronously. The execution row is
// written by the engine whatever the outcome; the response mirrors it.
func (s *Server) runCrawl(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl trigger not configured")
		return
	}
	exec, err := s.trigger(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, exec)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) serverError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, what+" failed")
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already written; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
