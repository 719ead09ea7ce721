package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"torrentsession/internal/domain"
	"torrentsession/internal/session"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTorrentNotFound):
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
	case errors.Is(err, domain.ErrTorrentAlreadyAdded):
		writeError(w, http.StatusConflict, "already_added", err.Error())
	case errors.Is(err, domain.ErrFolderRenamePending):
		writeError(w, http.StatusConflict, "rename_pending", err.Error())
	case errors.Is(err, domain.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "session is shutting down")
	case errors.Is(err, session.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
	case errors.Is(err, session.ErrStore):
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseCommaSeparated(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func parseStatusFields(value string) []session.StatusField {
	raw := parseCommaSeparated(value)
	if len(raw) == 0 {
		return nil
	}
	fields := make([]session.StatusField, 0, len(raw))
	for _, f := range raw {
		fields = append(fields, session.StatusField(f))
	}
	return fields
}

func parseBoolQuery(value string) (bool, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "", "false":
		return false, nil
	case "true":
		return true, nil
	default:
		return false, errors.New("invalid bool")
	}
}

func parseIDList(value string) []domain.TorrentID {
	raw := parseCommaSeparated(value)
	if len(raw) == 0 {
		return nil
	}
	ids := make([]domain.TorrentID, 0, len(raw))
	for _, v := range raw {
		ids = append(ids, domain.TorrentID(strings.ToLower(v)))
	}
	return ids
}
