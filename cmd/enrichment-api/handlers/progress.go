package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/progress"
)

// ProgressHandler streams per-job enrichment progress as server-sent events.
type ProgressHandler struct {
	logger   *observability.Logger
	notifier *progress.Notifier
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(logger *observability.Logger, notifier *progress.Notifier) *ProgressHandler {
	return &ProgressHandler{logger: logger, notifier: notifier}
}

// Stream handles GET /progress/{jobId}. It replays retained events and then
// follows the job live until completion or client disconnect.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid jobId", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, replay := h.notifier.Subscribe(jobID)
	if ch != nil {
		defer h.notifier.Unsubscribe(jobID, ch)
	}

	for _, event := range replay {
		if err := writeEvent(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	if ch == nil {
		// Job already completed; the replay carried the terminal event.
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.Type == progress.EventComplete {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
