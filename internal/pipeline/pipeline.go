// Package pipeline orchestrates the full question-answering flow:
// tool dispatch, routing, retrieval, prompt assembly, model invocation,
// grounding verification, caching and trace recording.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/asesorlab/advisor/internal/bus"
	"github.com/asesorlab/advisor/internal/cache"
	"github.com/asesorlab/advisor/internal/conversation"
	"github.com/asesorlab/advisor/internal/guard"
	"github.com/asesorlab/advisor/internal/llm"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/hash"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/prompt"
	"github.com/asesorlab/advisor/internal/retrieval"
	"github.com/asesorlab/advisor/internal/router"
	"github.com/asesorlab/advisor/internal/tools"
	"github.com/asesorlab/advisor/internal/trace"
)

// Request is one user question.
type Request struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

// Citation references one evidence chunk used in the answer, numbered
// to match the [N] markers in the text.
type Citation struct {
	Index             int     `json:"index"`
	DocumentTitle     string  `json:"document_title"`
	SimilarityScore   float32 `json:"similarity_score"`
	ConfidencePercent int     `json:"confidence_percent"`
}

// Routing summarizes the specialist classification for the response.
type Routing struct {
	Specialist string  `json:"specialist"`
	Confidence float64 `json:"confidence"`
	UsedModel  bool    `json:"used_model"`
}

// Alert codes surfaced to the client alongside the answer.
const (
	AlertLowGrounding    = "low_grounding"
	AlertAnswerRevised   = "answer_revised_by_verifier"
	AlertFallbackModel   = "fallback_model_used"
	AlertRoutingDegraded = "routing_degraded"
)

// Meta carries per-request observability fields mirrored in the trace.
type Meta struct {
	TraceID             string `json:"trace_id"`
	GroundingConfidence string `json:"grounding_confidence"`
	ModelUsed           string `json:"model_used,omitempty"`
	UsedFallback        bool   `json:"used_fallback"`
	ToolUsed            bool   `json:"tool_used"`
	GuardTriggered      bool   `json:"guard_triggered"`
	GuardParseError     bool   `json:"guard_parse_error"`
	RetrievalCacheHit   bool   `json:"retrieval_cache_hit"`
	ResponseCacheHit    bool   `json:"response_cache_hit"`

	TotalMs       int64 `json:"total_ms"`
	RoutingMs     int64 `json:"routing_ms"`
	RetrievalMs   int64 `json:"retrieval_ms"`
	EmbedMs       int64 `json:"embed_ms"`
	SearchMs      int64 `json:"search_ms"`
	LLMMs         int64 `json:"llm_ms"`
	LLMPrimaryMs  int64 `json:"llm_primary_ms"`
	LLMFallbackMs int64 `json:"llm_fallback_ms"`
	GuardMs       int64 `json:"guard_ms"`
}

// Response is the answer returned to the client.
type Response struct {
	Success   bool       `json:"success"`
	Answer    string     `json:"answer"`
	Routing   Routing    `json:"routing"`
	Citations []Citation `json:"citations,omitempty"`
	Alerts    []string   `json:"alerts,omitempty"`
	Meta      Meta       `json:"meta"`
}

// Stage boundaries, satisfied by the concrete implementations and by
// test fakes.
type (
	// Classifier routes a query to a specialist.
	Classifier interface {
		Classify(ctx context.Context, query string) router.Result
	}

	// Retriever fetches graded evidence for a query.
	Retriever interface {
		Retrieve(ctx context.Context, q retrieval.Query) retrieval.Result
	}

	// Invoker generates the answer text with fallback escalation.
	Invoker interface {
		Invoke(ctx context.Context, promptText string) (llm.Answer, error)
	}

	// Verifier re-checks grounded answers against their evidence.
	Verifier interface {
		Verify(ctx context.Context, query, contextText, answer string) (guard.Outcome, error)
	}
)

// cachedResponse is the post-guard answer stored in the response cache.
type cachedResponse struct {
	Answer     string
	Citations  []Citation
	Grounding  retrieval.GroundingConfidence
	ModelUsed  string
	Specialist router.Specialist
}

// Deps wires the pipeline stages. Router, guard, conversation store,
// recorder, series and event bus are optional; the pipeline degrades
// without them.
type Deps struct {
	Router        Classifier
	Retriever     Retriever
	Invoker       Invoker
	Guard         Verifier
	GuardEnabled  bool
	ResponseCache *cache.TTLCache[cachedResponse]
	Conversations conversation.Store
	Recorder      *trace.Recorder
	Series        *trace.TimeSeries
	Bus           bus.Bus
	Log           *logger.Logger
}

// Service runs the answer pipeline.
type Service struct {
	deps Deps
	log  *logger.Logger
}

// New creates the pipeline service.
func New(deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = logger.Default()
	}
	if deps.ResponseCache == nil {
		deps.ResponseCache = cache.New[cachedResponse](0, 256)
	}
	return &Service{deps: deps, log: deps.Log}
}

// NewResponseCache builds the response cache from TTL and size settings.
func NewResponseCache(ttl time.Duration, maxEntries int) *cache.TTLCache[cachedResponse] {
	return cache.New[cachedResponse](ttl, maxEntries)
}

// Ask answers one question. Retrieval and routing failures degrade;
// only the loss of both generation models is fatal.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, apperrors.InvalidRequestError("query must not be empty")
	}

	start := time.Now()
	traceID := newTraceID()

	// Fully-computable questions never reach the models.
	if outcome := tools.ParseInvoiceQuery(req.Query); outcome.Matched {
		return s.answerWithTool(ctx, req, traceID, start, outcome)
	}

	// Routing
	routingStart := time.Now()
	routing := router.Result{Primary: router.SpecialistGeneral}
	if s.deps.Router != nil {
		routing = s.deps.Router.Classify(ctx, req.Query)
	}
	routingMs := time.Since(routingStart).Milliseconds()

	// Retrieval
	retrievalStart := time.Now()
	evidence := s.deps.Retriever.Retrieve(ctx, retrieval.Query{
		Text:     req.Query,
		Category: routing.RetrievalCategory(),
	})
	retrievalMs := time.Since(retrievalStart).Milliseconds()

	meta := Meta{
		TraceID:             traceID,
		GroundingConfidence: string(evidence.Confidence),
		RetrievalCacheHit:   evidence.CacheHit,
		RoutingMs:           routingMs,
		RetrievalMs:         retrievalMs,
		EmbedMs:             evidence.EmbedMs,
		SearchMs:            evidence.SearchMs,
	}

	// Response cache: same normalized question against the same
	// evidence set returns the stored post-verification answer.
	cacheKey := responseCacheKey(req.Query, routing.Primary, evidence.Chunks)
	if cached, ok := s.deps.ResponseCache.Get(cacheKey); ok {
		meta.ResponseCacheHit = true
		meta.ModelUsed = cached.ModelUsed
		meta.GroundingConfidence = string(cached.Grounding)
		meta.TotalMs = time.Since(start).Milliseconds()

		resp := Response{
			Success:   true,
			Answer:    cached.Answer,
			Routing:   routingInfo(routing),
			Citations: cached.Citations,
			Alerts:    buildAlerts(cached.Grounding, false, false, routing),
			Meta:      meta,
		}

		s.persistTurns(ctx, req, resp)
		s.record(req, resp, "")
		return resp, nil
	}

	// Prompt assembly and model invocation
	p := prompt.Assemble(req.Query, evidence.Chunks)

	answer, err := s.deps.Invoker.Invoke(ctx, p.Text)
	meta.LLMMs = answer.TotalMs()
	meta.LLMPrimaryMs = answer.PrimaryMs
	meta.LLMFallbackMs = answer.FallbackMs
	meta.UsedFallback = answer.UsedFallback
	if err != nil {
		meta.TotalMs = time.Since(start).Milliseconds()
		resp := Response{Routing: routingInfo(routing), Meta: meta}
		s.record(req, resp, apperrors.Code(err))
		s.publish(bus.TopicAnswerFailed, req, resp, apperrors.Code(err))
		return Response{}, err
	}
	meta.ModelUsed = answer.ModelUsed

	finalText := answer.Text

	// Grounding verification applies only to evidence-backed answers.
	if s.deps.GuardEnabled && s.deps.Guard != nil && p.Variant == prompt.VariantGrounded {
		guardStart := time.Now()
		outcome, err := s.deps.Guard.Verify(ctx, req.Query, prompt.FormatContext(evidence.Chunks), finalText)
		meta.GuardMs = time.Since(guardStart).Milliseconds()
		if err != nil {
			meta.TotalMs = time.Since(start).Milliseconds()
			resp := Response{Routing: routingInfo(routing), Meta: meta}
			s.record(req, resp, apperrors.Code(err))
			s.publish(bus.TopicAnswerFailed, req, resp, apperrors.Code(err))
			return Response{}, err
		}
		finalText = outcome.Answer
		meta.GuardTriggered = outcome.Triggered
		meta.GuardParseError = outcome.ParseFailed
	}

	citations := buildCitations(evidence.Chunks)

	// Cache the answer as verified, not as generated.
	s.deps.ResponseCache.Set(cacheKey, cachedResponse{
		Answer:     finalText,
		Citations:  citations,
		Grounding:  evidence.Confidence,
		ModelUsed:  answer.ModelUsed,
		Specialist: routing.Primary,
	})

	meta.TotalMs = time.Since(start).Milliseconds()

	resp := Response{
		Success:   true,
		Answer:    finalText,
		Routing:   routingInfo(routing),
		Citations: citations,
		Alerts:    buildAlerts(evidence.Confidence, answer.UsedFallback, meta.GuardTriggered, routing),
		Meta:      meta,
	}

	s.persistTurns(ctx, req, resp)
	s.record(req, resp, "")
	s.publish(bus.TopicAnswerCompleted, req, resp, "")

	return resp, nil
}

// answerWithTool returns a deterministic tool answer without touching
// the models or the knowledge base.
func (s *Service) answerWithTool(ctx context.Context, req Request, traceID string, start time.Time, outcome tools.ParseOutcome) (Response, error) {
	result := tools.Compute(outcome.Input)

	resp := Response{
		Success: true,
		Answer:  tools.FormatAnswer(outcome.Input, result),
		Routing: Routing{Specialist: string(router.SpecialistFiscal), Confidence: 1},
		Meta: Meta{
			TraceID:             traceID,
			GroundingConfidence: string(retrieval.ConfidenceHigh),
			ToolUsed:            true,
			TotalMs:             time.Since(start).Milliseconds(),
		},
	}

	s.persistTurns(ctx, req, resp)
	s.record(req, resp, "")
	s.publish(bus.TopicAnswerCompleted, req, resp, "")

	return resp, nil
}

// persistTurns appends the user and assistant turns. Failures are
// logged and swallowed: history is a convenience, not a contract.
func (s *Service) persistTurns(ctx context.Context, req Request, resp Response) {
	if s.deps.Conversations == nil || req.ConversationID == "" {
		return
	}

	now := time.Now()
	if err := s.deps.Conversations.AppendTurn(ctx, req.ConversationID, conversation.Turn{
		Role:      "user",
		Content:   req.Query,
		CreatedAt: now,
	}); err != nil {
		s.log.Warn("Failed to persist user turn", "conversation", req.ConversationID, "error", err)
		return
	}

	citations := make([]string, 0, len(resp.Citations))
	for _, c := range resp.Citations {
		citations = append(citations, c.DocumentTitle)
	}

	if err := s.deps.Conversations.AppendTurn(ctx, req.ConversationID, conversation.Turn{
		Role:      "assistant",
		Content:   resp.Answer,
		Citations: citations,
		CreatedAt: now,
	}); err != nil {
		s.log.Warn("Failed to persist assistant turn", "conversation", req.ConversationID, "error", err)
	}
}

// record stores the trace row and feeds the time series. Every request
// produces exactly one trace, success or not.
func (s *Service) record(req Request, resp Response, errorCode string) {
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(trace.Record{
			ID:                  resp.Meta.TraceID,
			CreatedAt:           time.Now(),
			UserID:              req.UserID,
			ConversationID:      req.ConversationID,
			Success:             errorCode == "",
			ErrorCode:           errorCode,
			Specialist:          resp.Routing.Specialist,
			RoutingConfidence:   resp.Routing.Confidence,
			GroundingConfidence: resp.Meta.GroundingConfidence,
			CitationCount:       len(resp.Citations),
			AlertCount:          len(resp.Alerts),
			Performance: trace.Performance{
				TotalMs:           resp.Meta.TotalMs,
				RoutingMs:         resp.Meta.RoutingMs,
				RetrievalMs:       resp.Meta.RetrievalMs,
				EmbedMs:           resp.Meta.EmbedMs,
				SearchMs:          resp.Meta.SearchMs,
				LLMMs:             resp.Meta.LLMMs,
				LLMPrimaryMs:      resp.Meta.LLMPrimaryMs,
				LLMFallbackMs:     resp.Meta.LLMFallbackMs,
				GuardMs:           resp.Meta.GuardMs,
				RetrievalCacheHit: resp.Meta.RetrievalCacheHit,
				ResponseCacheHit:  resp.Meta.ResponseCacheHit,
				UsedFallbackModel: resp.Meta.UsedFallback,
				GuardTriggered:    resp.Meta.GuardTriggered,
				GuardParseError:   resp.Meta.GuardParseError,
				ToolUsed:          resp.Meta.ToolUsed,
			},
		})
	}

	if s.deps.Series != nil {
		s.deps.Series.RecordAsk(float64(resp.Meta.TotalMs), float64(resp.Meta.RetrievalMs))
	}
}

// publish emits the answer lifecycle event, best effort.
func (s *Service) publish(topic string, req Request, resp Response, errorCode string) {
	if s.deps.Bus == nil {
		return
	}

	event := bus.NewAnswerEvent(topic, bus.AnswerPayload{
		TraceID:             resp.Meta.TraceID,
		UserID:              req.UserID,
		ConversationID:      req.ConversationID,
		Specialist:          resp.Routing.Specialist,
		GroundingConfidence: resp.Meta.GroundingConfidence,
		TotalMs:             resp.Meta.TotalMs,
		UsedFallbackModel:   resp.Meta.UsedFallback,
		ToolUsed:            resp.Meta.ToolUsed,
		ErrorCode:           errorCode,
		RoutingConfidence:   resp.Routing.Confidence,
	})

	// Publishing runs outside the request deadline: the answer is
	// already decided when the event goes out.
	if err := s.deps.Bus.Publish(context.Background(), topic, event); err != nil {
		s.log.Warn("Failed to publish answer event", "topic", topic, "error", err)
	}
}

func routingInfo(r router.Result) Routing {
	return Routing{
		Specialist: string(r.Primary),
		Confidence: r.Confidence,
		UsedModel:  r.UsedModel,
	}
}

func buildCitations(chunks []retrieval.Chunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for i, c := range chunks {
		citations = append(citations, Citation{
			Index:             i + 1,
			DocumentTitle:     c.DocumentTitle,
			SimilarityScore:   c.SimilarityScore,
			ConfidencePercent: c.SourceConfidencePercent,
		})
	}
	return citations
}

func buildAlerts(confidence retrieval.GroundingConfidence, usedFallback, guardTriggered bool, routing router.Result) []string {
	var alerts []string

	if confidence == retrieval.ConfidenceLow || confidence == retrieval.ConfidenceNone {
		alerts = append(alerts, AlertLowGrounding)
	}
	if guardTriggered {
		alerts = append(alerts, AlertAnswerRevised)
	}
	if usedFallback {
		alerts = append(alerts, AlertFallbackModel)
	}
	if routing.Primary == router.SpecialistGeneral && routing.Confidence == 0 && !routing.UsedModel {
		alerts = append(alerts, AlertRoutingDegraded)
	}

	return alerts
}

// responseCacheKey binds the answer to the question, the specialist and
// the exact evidence set it was generated from.
func responseCacheKey(query string, specialist router.Specialist, chunks []retrieval.Chunk) string {
	parts := make([]string, 0, len(chunks)+2)
	parts = append(parts, retrieval.Normalize(query), string(specialist))
	for _, c := range chunks {
		parts = append(parts, c.ID)
	}
	return hash.Key(parts...)
}

func newTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
