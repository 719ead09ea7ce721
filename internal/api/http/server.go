package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentsession/internal/domain"
	"torrentsession/internal/session"
)

// Sessions is the manager surface the HTTP layer needs.
type Sessions interface {
	Add(req session.AddRequest) (domain.TorrentID, error)
	Remove(id domain.TorrentID, removeData bool) error

	Pause(id domain.TorrentID) error
	Resume(id domain.TorrentID) error
	PauseSession() error
	ResumeSession() error

	SetOptions(id domain.TorrentID, patch domain.OptionPatch) error
	GetOptions(id domain.TorrentID) (domain.Options, error)
	SetTrackers(id domain.TorrentID, trackers []domain.Tracker) error

	Status(id domain.TorrentID, fields []session.StatusField, diff bool, sessionID string) (map[session.StatusField]any, error)
	List(filter session.Filter) []domain.TorrentID
	TorrentsStatus(ctx context.Context, fields []session.StatusField, filter session.Filter) (map[domain.TorrentID]map[session.StatusField]any, error)

	ForceRecheck(id domain.TorrentID) error
	ForceReannounce(id domain.TorrentID) error
	ScrapeTracker(id domain.TorrentID) error
	ConnectPeer(id domain.TorrentID, addr string) error
	MoveStorage(id domain.TorrentID, dest string) error
	RenameFiles(id domain.TorrentID, renames map[int]string) error
	RenameFolder(id domain.TorrentID, folder, newFolder string) error

	QueueTop(id domain.TorrentID) error
	QueueUp(id domain.TorrentID) error
	QueueDown(id domain.TorrentID) error
	QueueBottom(id domain.TorrentID) error

	SaveState() error
}

type Server struct {
	sessions       Sessions
	hub            *Hub
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHub(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(sessions Sessions, opts ...ServerOption) *Server {
	s := &Server{sessions: sessions}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/session/pause", s.handleSessionPause)
	mux.HandleFunc("/session/resume", s.handleSessionResume)
	mux.HandleFunc("/session/save", s.handleSessionSave)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrent-session",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all websocket clients.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: s.hub.NewSessionID(),
	}
	s.hub.register <- client
	go client.writePump()
	go client.readPump()

	greeting, err := json.Marshal(wsMessage{
		Type: "session",
		Data: map[string]string{"session_id": client.sessionID},
	})
	if err == nil {
		select {
		case client.send <- greeting:
		default:
		}
	}
}
