package apihttp

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"torrentsession/internal/domain"
	"torrentsession/internal/session"
)

type addTorrentRequest struct {
	Magnet   string             `json:"magnet,omitempty"`
	Metainfo string             `json:"metainfo,omitempty"` // base64-encoded .torrent
	Filename string             `json:"filename,omitempty"`
	Owner    string             `json:"owner,omitempty"`
	Trackers []domain.Tracker   `json:"trackers,omitempty"`
	Options  domain.OptionPatch `json:"options"`
}

type addTorrentResponse struct {
	ID domain.TorrentID `json:"id"`
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleBulkStatus(w, r)
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	var req addTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if strings.TrimSpace(req.Magnet) == "" && strings.TrimSpace(req.Metainfo) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet or metainfo is required")
		return
	}

	var metainfo []byte
	if req.Metainfo != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Metainfo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "metainfo is not valid base64")
			return
		}
		metainfo = decoded
	}

	id, err := s.sessions.Add(session.AddRequest{
		Metainfo: metainfo,
		Magnet:   strings.TrimSpace(req.Magnet),
		Filename: strings.TrimSpace(req.Filename),
		Options:  req.Options,
		Trackers: req.Trackers,
		Owner:    strings.TrimSpace(req.Owner),
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addTorrentResponse{ID: id})
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := session.Filter{
		IDs:   parseIDList(q.Get("ids")),
		Owner: strings.TrimSpace(q.Get("owner")),
	}
	if state := strings.TrimSpace(q.Get("state")); state != "" {
		st := domain.State(state)
		if !domain.ValidState(st) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid state filter")
			return
		}
		filter.State = st
	}

	statuses, err := s.sessions.TorrentsStatus(r.Context(), parseStatusFields(q.Get("fields")), filter)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"torrents": statuses})
}

func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/torrents/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not_found", "torrent id is required")
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := domain.TorrentID(strings.ToLower(parts[0]))
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleTorrentStatus(w, r, id)
		case http.MethodDelete:
			s.handleRemoveTorrent(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
	case "status":
		s.requireMethod(w, r, http.MethodGet, func() { s.handleTorrentStatus(w, r, id) })
	case "options":
		s.handleTorrentOptions(w, r, id)
	case "trackers":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSetTrackers(w, r, id) })
	case "pause":
		s.postAction(w, r, func() error { return s.sessions.Pause(id) })
	case "resume":
		s.postAction(w, r, func() error { return s.sessions.Resume(id) })
	case "recheck":
		s.postAction(w, r, func() error { return s.sessions.ForceRecheck(id) })
	case "reannounce":
		s.postAction(w, r, func() error { return s.sessions.ForceReannounce(id) })
	case "scrape":
		s.postAction(w, r, func() error { return s.sessions.ScrapeTracker(id) })
	case "move":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleMoveStorage(w, r, id) })
	case "connect-peer":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleConnectPeer(w, r, id) })
	case "rename-folder":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleRenameFolder(w, r, id) })
	case "rename-files":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleRenameFiles(w, r, id) })
	case "queue/top":
		s.postAction(w, r, func() error { return s.sessions.QueueTop(id) })
	case "queue/up":
		s.postAction(w, r, func() error { return s.sessions.QueueUp(id) })
	case "queue/down":
		s.postAction(w, r, func() error { return s.sessions.QueueDown(id) })
	case "queue/bottom":
		s.postAction(w, r, func() error { return s.sessions.QueueBottom(id) })
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown torrent action")
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, fn func()) {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	fn()
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request, fn func() error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := fn(); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTorrentStatus(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	q := r.URL.Query()
	diff, err := parseBoolQuery(q.Get("diff"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid diff value")
		return
	}
	sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(q.Get("session"))
	}
	if diff && sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "diff queries require a session id")
		return
	}
	if s.hub != nil {
		s.hub.TouchSession(sessionID)
	}

	status, err := s.sessions.Status(id, parseStatusFields(q.Get("fields")), diff, sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (s *Server) handleRemoveTorrent(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	removeData, err := parseBoolQuery(r.URL.Query().Get("removeData"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid removeData value")
		return
	}
	if err := s.sessions.Remove(id, removeData); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleTorrentOptions(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	switch r.Method {
	case http.MethodGet:
		opts, err := s.sessions.GetOptions(id)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opts)
	case http.MethodPatch:
		var patch domain.OptionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
			return
		}
		if err := s.sessions.SetOptions(id, patch); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleSetTrackers(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	var trackers []domain.Tracker
	if err := json.NewDecoder(r.Body).Decode(&trackers); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if err := s.sessions.SetTrackers(id, trackers); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMoveStorage(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}
	if err := s.sessions.MoveStorage(id, req.Path); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnectPeer(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	var req struct {
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Addr) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "addr is required")
		return
	}
	if err := s.sessions.ConnectPeer(id, req.Addr); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	var req struct {
		Folder    string `json:"folder"`
		NewFolder string `json:"new_folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.Folder) == "" || strings.TrimSpace(req.NewFolder) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "folder and new_folder are required")
		return
	}
	if err := s.sessions.RenameFolder(id, req.Folder, req.NewFolder); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRenameFiles(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	var req struct {
		Renames []struct {
			Index int    `json:"index"`
			Path  string `json:"path"`
		} `json:"renames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Renames) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "renames is required")
		return
	}
	renames := make(map[int]string, len(req.Renames))
	for _, rn := range req.Renames {
		if strings.TrimSpace(rn.Path) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "rename path is required")
			return
		}
		renames[rn.Index] = rn.Path
	}
	if err := s.sessions.RenameFiles(id, renames); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.sessions.PauseSession)
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.sessions.ResumeSession)
}

func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.sessions.SaveState)
}
