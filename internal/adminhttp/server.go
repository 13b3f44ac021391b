// Package adminhttp exposes the operational HTTP surface — health,
// readiness, metrics, stats, and build info — the way the teacher's
// internal/marble.Service exposes its own health/info routes, rebuilt
// on go-chi/chi/v5 in place of the teacher's gorilla/mux since chi is
// this module's wired router dependency.
package adminhttp

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/source"
	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/pkg/metrics"
	"github.com/fanwu/vessel-notifier/pkg/version"
)

// SourceInfo is the subset of internal/source.Source the /info route
// needs, narrowed for testability.
type SourceInfo interface {
	Info(ctx context.Context) (source.Info, error)
}

// Server is the admin HTTP surface (spec §4.8, §6 "admin flags").
type Server struct {
	http   *http.Server
	log    *logrus.Entry
	db     *sql.DB
	rdb    *redis.Client
	store  *statestore.Store
	source SourceInfo
}

// Config configures New.
type Config struct {
	Addr   string
	DB     *sql.DB
	Redis  *redis.Client
	Store  *statestore.Store
	Source SourceInfo
	Log    *logrus.Entry
}

// New builds the chi router and wraps it in an *http.Server, not yet
// listening (spec §4.8 "start chi admin server").
func New(cfg Config) *Server {
	s := &Server{log: cfg.Log, db: cfg.DB, rdb: cfg.Redis, store: cfg.Store, source: cfg.Source}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/stats", s.handleStats)
	r.Get("/info", s.handleInfo)

	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}
	return s
}

// ListenAndServe blocks serving admin HTTP until the server is closed.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.log.WithError(err).Warn("adminhttp: readiness check failed: database")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "database"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.log.WithError(err).Warn("adminhttp: readiness check failed: redis")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "redis"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cardinalities, err := s.store.DiscoveryCardinalities(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("adminhttp: failed to load discovery cardinalities")
		cardinalities = map[string]int64{}
	}
	metrics.SetDiscoveryCardinalities(cardinalities)

	host, err := metrics.CollectHostStats()
	if err != nil {
		s.log.WithError(err).Warn("adminhttp: failed to collect host stats")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discovery": cardinalities,
		"host":      host,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"service":   "vessel-notifier",
		"version":   version.Version,
		"gitCommit": version.GitCommit,
		"buildTime": version.BuildTime,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if s.source != nil {
		info, err := s.source.Info(r.Context())
		if err != nil {
			s.log.WithError(err).Warn("adminhttp: failed to load source info")
		} else {
			resp["partitions"] = info.Partitions
			resp["backlog"] = info.Backlog
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
