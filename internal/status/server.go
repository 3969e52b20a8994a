package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/wakegate/internal/journal"
	"github.com/MrWong99/wakegate/internal/observe"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxRecentLimit    = 1000
)

// DecisionStore is the read side of the decision journal.
type DecisionStore interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// Config assembles the routes of a [Server]. Nil members leave their routes
// unregistered, except Health which defaults to an always-ready instance.
type Config struct {
	Addr string

	Health  *Health
	Metrics http.Handler // served on /metrics
	Hub     *Hub         // served on /events
	Store   DecisionStore

	// Instruments wraps every route with the tracing and request metrics
	// middleware when non-nil.
	Instruments *observe.Metrics

	Logger *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	addr    string
	handler http.Handler
	store   DecisionStore
	log     *slog.Logger
}

// New builds the routing table for cfg.
func New(cfg Config) *Server {
	s := &Server{addr: cfg.Addr, store: cfg.Store, log: cfg.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	h := cfg.Health
	if h == nil {
		h = NewHealth()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	if cfg.Hub != nil {
		mux.Handle("GET /events", cfg.Hub)
	}
	if cfg.Store != nil {
		mux.HandleFunc("GET /decisions", s.decisions)
		mux.HandleFunc("GET /decisions/stats", s.stats)
	}

	var handler http.Handler = mux
	if cfg.Instruments != nil {
		handler = observe.Middleware(cfg.Instruments)(mux)
	}
	s.handler = handler
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("status server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) decisions(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}
	entries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("status: read decisions", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Warn("status: read stats", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
