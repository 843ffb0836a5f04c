package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/rakha/ingat/pkg/cache"
	"github.com/rakha/ingat/pkg/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeError maps store sentinels onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrIDConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrCorrupt):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	limiter := s.limiter(remoteHost(r))
	if ok, reason := limiter.Allow(); !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}
	defer limiter.Done()

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	res, err := s.manager.HandleTurn(r.Context(), req.SessionID, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TurnResponse{
		SessionID:    res.SessionID,
		Created:      res.Created,
		Blocks:       res.Blocks,
		ActiveTokens: res.ActiveTokens,
		TotalTokens:  res.TotalTokens,
		Injected:     res.Injected,
	})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "session_id and content are required")
		return
	}

	if err := s.manager.RecordReply(r.Context(), req.SessionID, req.Content); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	summaries, err := s.manager.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]SessionEntry, 0, len(summaries))
	for _, sum := range summaries {
		entries = append(entries, SessionEntry{
			SessionSummary: sum,
			Health:         s.manager.Health(sum),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.manager.Get(id)
	if err != nil {
		storeError(w, err)
		return
	}

	archives, err := s.manager.Archives(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SessionDetail{
		Session:  sess,
		Archives: archives,
		Health: s.manager.Health(store.SessionSummary{
			ID:           sess.ID,
			ActiveTokens: sess.ActiveTokens,
			TotalTokens:  sess.TotalTokens,
		}),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.PathValue("id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	includeArchives := r.URL.Query().Get("archives") != "false"

	rec, err := s.manager.Export(r.PathValue("id"), includeArchives)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleForceArchive(w http.ResponseWriter, r *http.Request) {
	archiveID, err := s.manager.ForceArchive(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, cache.ErrNoArchivable) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArchiveResponse{ArchiveID: archiveID})
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	a, err := s.manager.GetArchive(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := s.retention

	if r.ContentLength != 0 {
		var req CleanupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RetentionDays != nil {
			retention = *req.RetentionDays
		}
	}

	deleted, err := s.manager.Cleanup(retention)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Deleted: deleted})
}
