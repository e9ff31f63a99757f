// Package live serves the view boundary over HTTP.
//
// Routes:
//
//   - GET  /api/vitals         latest [types.Vitals] snapshot
//   - GET  /api/facial         retained facial-metric history and summary
//   - POST /api/session/start  start a session
//   - POST /api/session/stop   stop the active session
//   - GET  /api/live           WebSocket feed of vitals snapshots
//
// The WebSocket feed polls the active session at a fixed cadence and
// writes one JSON text message per tick. Clients send nothing; the feed
// ends when the client closes the connection or the server shuts down.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/biofeedback/internal/facial"
	"github.com/MrWong99/biofeedback/internal/session"
	"github.com/MrWong99/biofeedback/pkg/types"
)

// DefaultInterval is the WebSocket push cadence.
const DefaultInterval = 500 * time.Millisecond

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// Sessions is the session lifecycle the handlers drive. *session.Manager
// satisfies it.
type Sessions interface {
	Start(ctx context.Context) (session.Info, error)
	Stop(ctx context.Context) error
	Current() *session.Session
}

var _ Sessions = (*session.Manager)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithInterval sets the WebSocket push cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server holds the handlers. It is safe for concurrent use.
type Server struct {
	sessions Sessions
	interval time.Duration
	origins  []string
}

// New returns a Server over sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions, interval: DefaultInterval}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vitals", s.Vitals)
	mux.HandleFunc("GET /api/facial", s.Facial)
	mux.HandleFunc("POST /api/session/start", s.StartSession)
	mux.HandleFunc("POST /api/session/stop", s.StopSession)
	mux.HandleFunc("GET /api/live", s.Live)
}

// facialResponse is the body of GET /api/facial.
type facialResponse struct {
	SessionID string                `json:"session_id,omitempty"`
	Metrics   []types.FacialMetrics `json:"metrics"`
	Summary   *facial.Summary       `json:"summary,omitempty"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// Vitals writes the current snapshot. Without a session it reports an
// inactive, empty record.
func (s *Server) Vitals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot(r.Context()))
}

// Facial writes the retained facial history of the active session.
func (s *Server) Facial(w http.ResponseWriter, _ *http.Request) {
	res := facialResponse{Metrics: []types.FacialMetrics{}}
	if cur := s.sessions.Current(); cur != nil {
		res.SessionID = cur.ID()
		if m := cur.Facial(); len(m) > 0 {
			res.Metrics = m
		}
		if sum, err := cur.FacialSummary(); err == nil {
			res.Summary = &sum
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// StartSession starts a session and writes its [session.Info].
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Start(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if s.sessions.Current() != nil {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// StopSession stops the active session.
func (s *Server) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoSession) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Live upgrades to a WebSocket and pushes a snapshot every interval until
// the client goes away.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Debug("live: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client messages and cancels ctx once the client
	// closes the connection.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn); err != nil {
			if !isClosed(err) {
				slog.Debug("live: push failed", "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, s.snapshot(ctx))
}

func (s *Server) snapshot(ctx context.Context) types.Vitals {
	cur := s.sessions.Current()
	if cur == nil {
		return types.Vitals{At: time.Now().UTC()}
	}
	return cur.Snapshot(ctx)
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) != -1
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("live: encode response", "err", err)
	}
}
