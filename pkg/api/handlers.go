package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/types"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps an error's errs.Kind to the HTTP status §6 specifies:
// unexpected errors are 500, store 5xx (Transient) is 503, and a missing
// resource (NotFound) is 404.
func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.KindNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.KindTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type eventsResponse struct {
	Items       []types.Event `json:"items"`
	TotalEvents int           `json:"total_events"`
	TotalPIs    int           `json:"total_pis"`
	HasMore     bool          `json:"has_more"`
	NextCursor  types.CID     `json:"next_cursor,omitempty"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be an integer"})
			return
		}
		limit = n
	}
	cursor := types.CID(q.Get("cursor"))

	page, err := s.manager.ListEvents(r.Context(), cursor, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Items:       page.Items,
		TotalEvents: page.TotalEvents,
		TotalPIs:    page.TotalPIs,
		HasMore:     page.HasMore,
		NextCursor:  page.NextCursor,
	})
}

func (s *Server) handleIndexPointer(w http.ResponseWriter, r *http.Request) {
	p, err := s.manager.GetPointer(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	body, p, err := s.manager.GetLatestSnapshotRaw(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Snapshot-CID", string(p.LatestSnapshotCID))
	w.Header().Set("X-Snapshot-Seq", strconv.Itoa(p.SnapshotSeq))
	w.Header().Set("X-Snapshot-Count", strconv.Itoa(p.SnapshotCount))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn().Err(err).Msg("error streaming snapshot body to client")
	}
}

type appendRequest struct {
	Type   types.EventType `json:"type"`
	PI     types.PI        `json:"pi"`
	Ver    int             `json:"ver"`
	TipCID types.CID       `json:"tip_cid"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	_, err := s.manager.Append(req.Type, req.PI, req.Ver, req.TipCID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"queued": true, "success": true})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.QueueStats()
	writeJSON(w, http.StatusOK, map[string]int{
		"queue_size":       stats.QueueSize,
		"batch_size":       stats.BatchSize,
		"batch_timeout_ms": stats.BatchTimeoutMS,
	})
}

// handleSnapshotRebuild is the stub §6 calls for: a manual trigger exists
// as the "caindex snapshot build" CLI command instead, which runs the
// builder synchronously off the request path.
func (s *Server) handleSnapshotRebuild(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "manual rebuild over HTTP is not supported; run `caindex snapshot build` instead",
	})
}
