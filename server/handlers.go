package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"roomhub/models"
	"roomhub/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.hub.Rooms(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list rooms")
		writeError(w, http.StatusServiceUnavailable, "hub unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// handleHistory serves the recent messages of a room. Identical concurrent
// requests share a single store read.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if unescaped, err := url.PathUnescape(room); err == nil {
		room = unescaped
	}
	room = strings.TrimSpace(room)
	if room == "" || utf8.RuneCountInString(room) > s.config.MaxRoomName {
		writeError(w, http.StatusBadRequest, "invalid room name")
		return
	}

	limit := s.config.MaxHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	key := fmt.Sprintf("%s\x00%d", room, limit)
	v, err, shared := s.reads.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.HistoryTimeout)
		defer cancel()
		return s.history.Recent(ctx, room, limit)
	})
	if err != nil {
		s.log.Error().Err(err).Str("room", room).Msg("read history")
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}

	s.log.Debug().Str("room", room).Int("limit", limit).Bool("shared", shared).Msg("history served")
	writeJSON(w, http.StatusOK, protocol.NewHistory(room, v.([]models.Message)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
