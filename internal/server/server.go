// Package server exposes a read-only status API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/solmirror/mirrorbot/internal/domain"
	"github.com/solmirror/mirrorbot/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// Server serves health, active positions, position history, and the audit
// trail. It never mutates state; all trading goes through the daemon.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	positions  domain.PositionStore
	audit      domain.AuditStore // may be nil
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, reg *registry.Registry, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Server {
	s := &Server{
		registry:  reg,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/positions", s.handleActivePositions)
	mux.HandleFunc("GET /api/positions/history", s.handlePositionHistory)
	mux.HandleFunc("GET /api/audit", s.handleAudit)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.logging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// positionView is the JSON shape for positions, with decimals as strings.
type positionView struct {
	ID              string     `json:"id"`
	Asset           string     `json:"asset"`
	Venue           string     `json:"venue"`
	TradeMode       string     `json:"trade_mode"`
	SpentSol        string     `json:"spent_sol"`
	Quantity        string     `json:"quantity"`
	EntryPrice      string     `json:"entry_price"`
	CurrentPrice    string     `json:"current_price"`
	HighestPrice    string     `json:"highest_price"`
	StopLossPct     *string    `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   *string    `json:"take_profit_pct,omitempty"`
	OriginSignature string     `json:"origin_signature"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func toView(p domain.Position) positionView {
	v := positionView{
		ID:              p.ID,
		Asset:           p.Asset,
		Venue:           p.Venue,
		TradeMode:       string(p.TradeMode),
		SpentSol:        p.SpentSol.String(),
		Quantity:        p.Quantity.String(),
		EntryPrice:      p.EntryPrice.String(),
		CurrentPrice:    p.CurrentPrice.String(),
		HighestPrice:    p.HighestPrice.String(),
		OriginSignature: p.OriginSignature,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		ClosedAt:        p.ClosedAt,
	}
	if p.StopLossPct != nil {
		s := p.StopLossPct.String()
		v.StopLossPct = &s
	}
	if p.TakeProfitPct != nil {
		s := p.TakeProfitPct.String()
		v.TakeProfitPct = &s
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_positions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleActivePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.registry.ListActive()
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	before := time.Now().UTC()
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}

	closed, err := s.positions.ListClosedBefore(r.Context(), before)
	if err != nil {
		s.logger.Error("list position history failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	views := make([]positionView, 0, len(closed))
	for _, p := range closed {
		views = append(views, toView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.audit.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list audit entries failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// logging wraps the mux with per-request access logging.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
