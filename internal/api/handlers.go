package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Furkan-rgb/loltimeanalysis/internal/app/status"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// playerFromRequest builds the normalized player reference from the route and
// the region query parameter.
func playerFromRequest(r *http.Request) (player.Ref, error) {
	ref := player.New(
		chi.URLParam(r, "name"),
		chi.URLParam(r, "tag"),
		r.URL.Query().Get("region"),
	)
	if ref.IsZero() {
		return player.Ref{}, errors.New("name, tag and region are required")
	}
	return ref, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref, err := playerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.history.Read(r.Context(), ref.Keys().Cache)
	if err != nil {
		if errors.Is(err, matchhistory.ErrNoHistory) {
			writeError(w, http.StatusNotFound, "no match history found; trigger an update first")
			return
		}
		s.logger.Error(r.Context(), "Failed to read history", "player_id", ref.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ref, err := playerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.trigger.Start(r.Context(), ref)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})

	case errors.Is(err, matchhistory.ErrJobInProgress):
		writeJSON(w, http.StatusOK, map[string]string{"status": "in_progress"})

	default:
		var cdErr *matchhistory.CooldownError
		if errors.As(err, &cdErr) {
			seconds := int(cdErr.Remaining.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"status":              "cooldown",
				"retry_after_seconds": seconds,
			})
			return
		}
		s.logger.Error(r.Context(), "Failed to start update", "player_id", ref.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// statusPayload is the wire shape of one status observation.
type statusPayload struct {
	Status            string `json:"status"`
	Processed         int    `json:"processed,omitempty"`
	Total             int    `json:"total,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Error             string `json:"error,omitempty"`
}

func toPayload(snap status.Snapshot) statusPayload {
	p := statusPayload{
		Status:    string(snap.State),
		Processed: snap.Processed,
		Total:     snap.Total,
		Error:     snap.Err,
	}
	if snap.State == status.StateCooldown {
		p.RetryAfterSeconds = int(snap.Remaining.Seconds()) + 1
	}
	return p
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := playerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.status.Snapshot(r.Context(), ref)
	if err != nil {
		s.logger.Error(r.Context(), "Failed to read status", "player_id", ref.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toPayload(snap))
}

// handleStatusStream pushes snapshots over server-sent events. It emits only
// when the observed state changes and closes the stream at the first terminal
// snapshot, so an idle client costs one poll per interval at most.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	ref, err := playerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ticker := time.NewTicker(s.streamPoll)
	defer ticker.Stop()

	var last *statusPayload
	for {
		snap, err := s.status.Snapshot(ctx, ref)
		if err != nil {
			s.logger.Error(ctx, "Status stream read failed", "player_id", ref.ID(), "error", err)
			return
		}

		payload := toPayload(snap)
		if last == nil || payload != *last {
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			last = &payload
		}

		if snap.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
