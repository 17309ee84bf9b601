package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/asesorlab/advisor/internal/conversation"
	"github.com/asesorlab/advisor/internal/guard"
	"github.com/asesorlab/advisor/internal/llm"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/retrieval"
	"github.com/asesorlab/advisor/internal/router"
	"github.com/asesorlab/advisor/internal/trace"
)

type fakeRouter struct {
	result router.Result
}

func (f *fakeRouter) Classify(_ context.Context, _ string) router.Result {
	return f.result
}

type fakeRetriever struct {
	result retrieval.Result
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ retrieval.Query) retrieval.Result {
	f.calls++
	return f.result
}

type fakeInvoker struct {
	answer llm.Answer
	err    error
	calls  int
}

func (f *fakeInvoker) Invoke(_ context.Context, _ string) (llm.Answer, error) {
	f.calls++
	return f.answer, f.err
}

type fakeGuard struct {
	outcome guard.Outcome
	err     error
	calls   int
}

func (f *fakeGuard) Verify(_ context.Context, _, _, _ string) (guard.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func evidenceResult(confidence retrieval.GroundingConfidence) retrieval.Result {
	return retrieval.Result{
		Chunks: []retrieval.Chunk{
			{ID: "c1", DocumentTitle: "Guía IVA 2024", Content: "El tipo general es 21%.", SimilarityScore: 0.82, SourceConfidencePercent: 90},
			{ID: "c2", DocumentTitle: "Manual IRPF", Content: "La retención habitual es 15%.", SimilarityScore: 0.71, SourceConfidencePercent: 85},
		},
		Confidence: confidence,
	}
}

func newService(rt *fakeRouter, re *fakeRetriever, inv *fakeInvoker, g *fakeGuard, guardEnabled bool) (*Service, *trace.Recorder, conversation.Store) {
	recorder := trace.NewRecorder(10)
	store := conversation.NewMemoryStore()

	var verifier Verifier
	if g != nil {
		verifier = g
	}

	svc := New(Deps{
		Router:        rt,
		Retriever:     re,
		Invoker:       inv,
		Guard:         verifier,
		GuardEnabled:  guardEnabled,
		ResponseCache: NewResponseCache(time.Minute, 16),
		Conversations: store,
		Recorder:      recorder,
		Log:           logger.Default(),
	})
	return svc, recorder, store
}

func TestAskGroundedAnswer(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "El tipo general de IVA es del 21% [1].", ModelUsed: "gemini-2.5-flash"}}

	svc, recorder, store := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{UserID: "u1", ConversationID: "conv-1", Query: "¿Qué IVA aplico a mis servicios?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if !resp.Success {
		t.Error("Success = false")
	}
	if resp.Routing.Specialist != "fiscal" {
		t.Errorf("specialist = %q, want fiscal", resp.Routing.Specialist)
	}
	if resp.Meta.GroundingConfidence != "high" {
		t.Errorf("grounding = %q, want high", resp.Meta.GroundingConfidence)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.Citations[0].Index != 1 || resp.Citations[0].DocumentTitle != "Guía IVA 2024" {
		t.Errorf("first citation = %+v", resp.Citations[0])
	}
	if len(resp.Alerts) != 0 {
		t.Errorf("alerts = %v, want none", resp.Alerts)
	}

	if recorder.Len() != 1 {
		t.Errorf("trace count = %d, want 1", recorder.Len())
	}
	rec := recorder.List(1)[0]
	if !rec.Success || rec.Specialist != "fiscal" || rec.CitationCount != 2 {
		t.Errorf("trace = %+v", rec)
	}

	turns, _ := store.History(context.Background(), "conv-1", 0)
	if len(turns) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(turns))
	}
	if turns[1].Role != "assistant" || len(turns[1].Citations) != 2 {
		t.Errorf("assistant turn = %+v", turns[1])
	}
}

func TestAskEmptyQuery(t *testing.T) {
	svc, _, _ := newService(&fakeRouter{}, &fakeRetriever{}, &fakeInvoker{}, nil, false)

	_, err := svc.Ask(context.Background(), Request{Query: "   "})
	if !apperrors.Is(err, apperrors.CodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestAskToolShortCircuit(t *testing.T) {
	rt := &fakeRouter{}
	re := &fakeRetriever{}
	inv := &fakeInvoker{}
	svc, recorder, _ := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{
		UserID: "u1",
		Query:  "Calcula el total de una factura con base 1000 euros, IVA 21% e IRPF 15%",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if !resp.Meta.ToolUsed {
		t.Error("ToolUsed = false")
	}
	if inv.calls != 0 {
		t.Errorf("invoker called %d times, want 0", inv.calls)
	}
	if re.calls != 0 {
		t.Errorf("retriever called %d times, want 0", re.calls)
	}
	if resp.Meta.LLMMs != 0 {
		t.Errorf("LLMMs = %d, want 0", resp.Meta.LLMMs)
	}
	if !strings.Contains(resp.Answer, "1.060,00") {
		t.Errorf("answer %q missing expected total", resp.Answer)
	}

	rec := recorder.List(1)[0]
	if !rec.Performance.ToolUsed {
		t.Error("trace ToolUsed = false")
	}
}

func TestAskBothModelsFailIsFatal(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{err: apperrors.FallbackModelError(context.DeadlineExceeded)}

	svc, recorder, _ := newService(rt, re, inv, nil, false)

	_, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if !apperrors.Is(err, apperrors.CodeFallbackModelFailure) {
		t.Fatalf("err = %v, want FALLBACK_MODEL_FAILURE", err)
	}

	// Failures still leave a trace row.
	rec := recorder.List(1)[0]
	if rec.Success {
		t.Error("trace Success = true for failed request")
	}
	if rec.ErrorCode != apperrors.CodeFallbackModelFailure {
		t.Errorf("trace ErrorCode = %q", rec.ErrorCode)
	}
}

func TestAskLowGroundingAlert(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: retrieval.Result{
		Chunks:     []retrieval.Chunk{{ID: "c1", DocumentTitle: "Nota", Content: "dato", SimilarityScore: 0.41}},
		Confidence: retrieval.ConfidenceLow,
	}}
	inv := &fakeInvoker{answer: llm.Answer{Text: "Respuesta [1].", ModelUsed: "gemini-2.5-flash"}}

	svc, _, _ := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{Query: "¿Cuánto cobra la competencia?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !containsAlert(resp.Alerts, AlertLowGrounding) {
		t.Errorf("alerts = %v, want %s", resp.Alerts, AlertLowGrounding)
	}
}

func TestAskFallbackModelAlert(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "Respuesta [1].", ModelUsed: "gemini-2.0-flash", UsedFallback: true}}

	svc, _, _ := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !containsAlert(resp.Alerts, AlertFallbackModel) {
		t.Errorf("alerts = %v, want %s", resp.Alerts, AlertFallbackModel)
	}
	if !resp.Meta.UsedFallback {
		t.Error("UsedFallback = false")
	}
}

func TestAskTraceStageTimings(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	evidence := evidenceResult(retrieval.ConfidenceHigh)
	evidence.EmbedMs = 7
	evidence.SearchMs = 9
	re := &fakeRetriever{result: evidence}
	inv := &fakeInvoker{answer: llm.Answer{
		Text:         "Respuesta [1].",
		ModelUsed:    "gemini-2.0-flash",
		UsedFallback: true,
		PrimaryMs:    5,
		FallbackMs:   30,
	}}

	svc, recorder, _ := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	perf := recorder.List(1)[0].Performance
	if perf.EmbedMs != 7 || perf.SearchMs != 9 {
		t.Errorf("embed/search ms = %d/%d, want 7/9", perf.EmbedMs, perf.SearchMs)
	}
	if perf.LLMPrimaryMs != 5 || perf.LLMFallbackMs != 30 {
		t.Errorf("llm primary/fallback ms = %d/%d, want 5/30", perf.LLMPrimaryMs, perf.LLMFallbackMs)
	}
	if perf.LLMMs != 30 {
		t.Errorf("llm ms = %d, want 30 (fallback attempt)", perf.LLMMs)
	}
	if !perf.UsedFallbackModel {
		t.Error("UsedFallbackModel = false")
	}
	if resp.Meta.LLMPrimaryMs != 5 || resp.Meta.LLMFallbackMs != 30 {
		t.Errorf("meta llm primary/fallback ms = %d/%d, want 5/30", resp.Meta.LLMPrimaryMs, resp.Meta.LLMFallbackMs)
	}
}

func TestAskGuardParseErrorReachesTrace(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "Respuesta [1].", ModelUsed: "gemini-2.5-flash"}}
	// Malformed verifier output keeps the answer but must be flagged.
	g := &fakeGuard{outcome: guard.Outcome{Answer: "Respuesta [1].", ParseFailed: true}}

	svc, recorder, _ := newService(rt, re, inv, g, true)

	resp, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if !resp.Meta.GuardParseError {
		t.Error("meta GuardParseError = false")
	}
	perf := recorder.List(1)[0].Performance
	if !perf.GuardParseError {
		t.Error("trace GuardParseError = false")
	}
	if perf.GuardTriggered {
		t.Error("GuardTriggered = true for a kept answer")
	}
}

func TestAskGuardRewrite(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "El IVA es del 10% [1].", ModelUsed: "gemini-2.5-flash"}}
	g := &fakeGuard{outcome: guard.Outcome{Answer: "El tipo general de IVA es del 21% [1].", Triggered: true}}

	svc, _, _ := newService(rt, re, inv, g, true)

	resp, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if g.calls != 1 {
		t.Fatalf("guard called %d times, want 1", g.calls)
	}
	if resp.Answer != "El tipo general de IVA es del 21% [1]." {
		t.Errorf("answer = %q, want revised text", resp.Answer)
	}
	if !resp.Meta.GuardTriggered {
		t.Error("GuardTriggered = false")
	}
	if !containsAlert(resp.Alerts, AlertAnswerRevised) {
		t.Errorf("alerts = %v, want %s", resp.Alerts, AlertAnswerRevised)
	}
}

func TestAskGuardSkippedWithoutEvidence(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistGeneral}}
	re := &fakeRetriever{result: retrieval.Result{Confidence: retrieval.ConfidenceNone}}
	inv := &fakeInvoker{answer: llm.Answer{Text: "No dispongo de información verificada.", ModelUsed: "gemini-2.5-flash"}}
	g := &fakeGuard{}

	svc, _, _ := newService(rt, re, inv, g, true)

	if _, err := svc.Ask(context.Background(), Request{Query: "¿Algo rarísimo?"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if g.calls != 0 {
		t.Errorf("guard called %d times for no-evidence answer, want 0", g.calls)
	}
}

func TestAskGuardFailClosedIsFatal(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "Respuesta [1].", ModelUsed: "gemini-2.5-flash"}}
	g := &fakeGuard{err: apperrors.GuardMalformedError(context.Canceled)}

	svc, _, _ := newService(rt, re, inv, g, true)

	_, err := svc.Ask(context.Background(), Request{Query: "¿Qué IVA aplico?"})
	if !apperrors.Is(err, apperrors.CodeGuardMalformedOutput) {
		t.Errorf("err = %v, want GUARD_MALFORMED_OUTPUT", err)
	}
}

func TestAskResponseCacheHit(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "El tipo general de IVA es del 21% [1].", ModelUsed: "gemini-2.5-flash"}}

	svc, _, _ := newService(rt, re, inv, nil, false)
	ctx := context.Background()

	first, err := svc.Ask(ctx, Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	if first.Meta.ResponseCacheHit {
		t.Error("first request reported a cache hit")
	}

	second, err := svc.Ask(ctx, Request{Query: "¿qué  iva APLICO?"})
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if !second.Meta.ResponseCacheHit {
		t.Error("second request missed the response cache")
	}
	if inv.calls != 1 {
		t.Errorf("invoker called %d times, want 1", inv.calls)
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer %q differs from original %q", second.Answer, first.Answer)
	}
	if len(second.Citations) != len(first.Citations) {
		t.Errorf("cached citations = %d, want %d", len(second.Citations), len(first.Citations))
	}
}

func TestAskCachesPostGuardText(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistFiscal, Confidence: 0.9, UsedModel: true}}
	re := &fakeRetriever{result: evidenceResult(retrieval.ConfidenceHigh)}
	inv := &fakeInvoker{answer: llm.Answer{Text: "El IVA es del 10% [1].", ModelUsed: "gemini-2.5-flash"}}
	g := &fakeGuard{outcome: guard.Outcome{Answer: "El tipo general de IVA es del 21% [1].", Triggered: true}}

	svc, _, _ := newService(rt, re, inv, g, true)
	ctx := context.Background()

	if _, err := svc.Ask(ctx, Request{Query: "¿Qué IVA aplico?"}); err != nil {
		t.Fatalf("first Ask: %v", err)
	}

	second, err := svc.Ask(ctx, Request{Query: "¿Qué IVA aplico?"})
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if second.Answer != "El tipo general de IVA es del 21% [1]." {
		t.Errorf("cached answer = %q, want the revised text", second.Answer)
	}
	if g.calls != 1 {
		t.Errorf("guard called %d times, want 1 (cache hit skips verification)", g.calls)
	}
}

func TestAskDegradedRoutingAlert(t *testing.T) {
	rt := &fakeRouter{result: router.Result{Primary: router.SpecialistGeneral}}
	re := &fakeRetriever{result: retrieval.Result{Confidence: retrieval.ConfidenceNone}}
	inv := &fakeInvoker{answer: llm.Answer{Text: "No dispongo de información verificada.", ModelUsed: "gemini-2.5-flash"}}

	svc, _, _ := newService(rt, re, inv, nil, false)

	resp, err := svc.Ask(context.Background(), Request{Query: "zzz"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !containsAlert(resp.Alerts, AlertRoutingDegraded) {
		t.Errorf("alerts = %v, want %s", resp.Alerts, AlertRoutingDegraded)
	}
}

func containsAlert(alerts []string, want string) bool {
	for _, a := range alerts {
		if a == want {
			return true
		}
	}
	return false
}
