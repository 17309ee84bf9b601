package trace

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves trace inspection endpoints.
type Handler struct {
	recorder *Recorder
	series   *TimeSeries
}

// NewHandler creates a handler over the given recorder. The time
// series is optional.
func NewHandler(recorder *Recorder, series *TimeSeries) *Handler {
	return &Handler{recorder: recorder, series: series}
}

// Register mounts the trace routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/rag/traces", h.handleList)
	mux.HandleFunc("/v1/rag/traces/summary", h.handleSummary)
	mux.HandleFunc("/v1/rag/traces/history", h.handleHistory)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseLimit(r, 50)
	records := h.recorder.List(limit)

	writeJSON(w, map[string]any{
		"traces": records,
		"count":  len(records),
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseLimit(r, 100)
	writeJSON(w, h.recorder.Summarize(limit))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.series == nil {
		http.Error(w, "History not enabled", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"ask_rate":          h.series.AskRate.Points(),
		"answer_latency":    h.series.AnswerLatency.Points(),
		"retrieval_latency": h.series.RetrievalLatency.Points(),
	})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
