// Package viewer serves live self-play progress: Prometheus metrics, a
// websocket feed of finished games and JSON summaries of the Parquet output.
package viewer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brensch/arenamcts/selfplay"
	"github.com/brensch/arenamcts/store"
)

const recentGames = 100

// GameEvent is what websocket clients and /api/recent receive per game.
type GameEvent struct {
	GameID    string  `json:"game_id"`
	Game      string  `json:"game"`
	Worker    int     `json:"worker"`
	Plies     int     `json:"plies"`
	Result    string  `json:"result"`
	Reward    float64 `json:"reward"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

func EventFromResult(res selfplay.GameResult) GameEvent {
	return GameEvent{
		GameID:    res.GameID,
		Game:      res.Game,
		Worker:    res.Worker,
		Plies:     res.Plies,
		Result:    res.Reward.Outcome(),
		Reward:    res.Reward[0],
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
}

// Server holds shared state for HTTP handlers.
type Server struct {
	parquetDir string
	hub        *Hub
	logger     *slog.Logger

	mu     sync.Mutex
	recent []GameEvent
}

// NewServer creates a Server. parquetDir may be empty, in which case
// /api/summary reports no games.
func NewServer(parquetDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		parquetDir: parquetDir,
		hub:        NewHub(logger),
		logger:     logger,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Publish records a finished game and pushes it to websocket clients.
func (s *Server) Publish(res selfplay.GameResult) {
	ev := EventFromResult(res)
	s.mu.Lock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > recentGames {
		s.recent = s.recent[len(s.recent)-recentGames:]
	}
	s.mu.Unlock()
	s.hub.Broadcast(ev)
}

// RegisterRoutes sets up all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/api/recent", s.handleRecent)
	mux.HandleFunc("/api/summary", s.handleSummary)
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ListenAndServe runs the server until it fails. Use the returned server's
// Shutdown to stop it.
func (s *Server) ListenAndServe(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("viewer listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("viewer stopped", "err", err)
		}
	}()
	return srv
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseIntQuery(r, "limit", recentGames)
	s.mu.Lock()
	n := len(s.recent)
	if limit < n {
		n = limit
	}
	// Newest first.
	out := make([]GameEvent, 0, n)
	for i := len(s.recent) - 1; i >= len(s.recent)-n; i-- {
		out = append(out, s.recent[i])
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.parquetDir == "" {
		writeJSON(w, []store.GameSummary{})
		return
	}
	files, err := store.BatchFiles(s.parquetDir)
	if err != nil || len(files) == 0 {
		writeJSON(w, []store.GameSummary{})
		return
	}

	summaries, err := store.Summarize(r.Context(), s.parquetDir)
	if err != nil {
		s.logger.Warn("summarize failed", "dir", s.parquetDir, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summaries)
}

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
