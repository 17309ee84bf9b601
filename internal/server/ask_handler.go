package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/asesorlab/advisor/internal/conversation"
	"github.com/asesorlab/advisor/internal/pipeline"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/pkg/security"
)

// Asker is the answering boundary, satisfied by the pipeline service.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// AskHandler serves the question endpoint and conversation history.
type AskHandler struct {
	asker Asker
	conv  conversation.Store
	log   *logger.Logger
}

// NewAskHandler creates the handler. conv may be nil; the history
// endpoint then returns empty lists.
func NewAskHandler(asker Asker, conv conversation.Store, log *logger.Logger) *AskHandler {
	return &AskHandler{
		asker: asker,
		conv:  conv,
		log:   log,
	}
}

// RegisterRoutes registers the answer routes with the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/ask", h.HandleAsk)
	mux.HandleFunc("GET /v1/conversations/{id}", h.HandleConversation)
}

const maxAskBodyBytes = 64 * 1024

// HandleAsk handles POST /v1/ask.
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request

	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid JSON body"))
		return
	}

	req.Query = security.SanitizeQuery(req.Query)
	if err := security.ValidateQuery(req.Query); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}
	if err := security.ValidateID("user_id", req.UserID); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}
	if err := security.ValidateID("conversation_id", req.ConversationID); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}

	resp, err := h.asker.Ask(r.Context(), req)
	if err != nil {
		h.log.Error("Ask failed",
			"user", req.UserID,
			"query", security.SanitizeForLog(req.Query),
			"code", apperrors.Code(err),
			"error", err.Error(),
		)
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleConversation handles GET /v1/conversations/{id}.
func (h *AskHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		apperrors.WriteError(w, apperrors.InvalidRequestError("conversation id required"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	turns := []conversation.Turn{}
	if h.conv != nil {
		loaded, err := h.conv.History(r.Context(), id, limit)
		if err != nil {
			h.log.WithConversation(id).Warn("Failed to load conversation history", "error", err)
			apperrors.WriteError(w, apperrors.Wrap(apperrors.CodeUnavailable, "conversation history unavailable", err))
			return
		}
		turns = loaded
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"turns":           turns,
		"count":           len(turns),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
