// Package router classifies queries into advisory specialist domains.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asesorlab/advisor/internal/llm"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/logger"
)

// Specialist is one advisory domain.
type Specialist string

const (
	SpecialistFiscal Specialist = "fiscal"
	SpecialistLabor  Specialist = "labor"
	SpecialistMarket Specialist = "market"

	// SpecialistGeneral is the unclassified default; retrieval runs unfiltered.
	SpecialistGeneral Specialist = "general"
)

// FilterConfidenceFloor is the minimum routing confidence at which
// retrieval is filtered by the primary specialist's category.
const FilterConfidenceFloor = 0.4

// Result is the outcome of classifying one query.
type Result struct {
	Primary    Specialist   `json:"primary_specialist"`
	Secondary  []Specialist `json:"secondary_specialists,omitempty"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning,omitempty"`
	UsedModel  bool         `json:"used_model"`
}

// RetrievalCategory returns the category filter for retrieval, or ""
// when routing confidence is too low to constrain the search.
func (r Result) RetrievalCategory() string {
	if r.Primary == SpecialistGeneral || r.Confidence < FilterConfidenceFloor {
		return ""
	}
	return string(r.Primary)
}

const classifyPrompt = `Clasifica la siguiente consulta de un trabajador autónomo español en uno de estos dominios: "fiscal" (impuestos, IVA, IRPF, modelos tributarios), "labor" (contratación, cotización, Seguridad Social), "market" (mercado local, tarifas, competencia).

Responde SOLO con un objeto JSON:
{"primary": "fiscal|labor|market", "secondary": [], "confidence": 0.0, "reasoning": ""}

Consulta: {query}`

// Router classifies queries, model first with a keyword fallback.
// A total classification failure degrades to the general specialist
// with confidence 0; it never aborts the pipeline.
type Router struct {
	gen   llm.Generator
	model string
	log   *logger.Logger
}

// New creates a router. gen may be nil to run keyword-only.
func New(gen llm.Generator, model string, log *logger.Logger) *Router {
	return &Router{
		gen:   gen,
		model: model,
		log:   log,
	}
}

// Classify routes query to a specialist.
func (r *Router) Classify(ctx context.Context, query string) Result {
	if strings.TrimSpace(query) == "" {
		return Result{Primary: SpecialistGeneral}
	}

	if r.gen != nil {
		result, err := r.classifyWithModel(ctx, query)
		if err == nil {
			result.UsedModel = true
			return result
		}
		r.log.Warn("Model classification failed, falling back to keywords",
			"code", apperrors.CodeRoutingUnavailable, "error", err)
	}

	return classifyByKeywords(query)
}

type modelVerdict struct {
	Primary    string   `json:"primary"`
	Secondary  []string `json:"secondary"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func (r *Router) classifyWithModel(ctx context.Context, query string) (Result, error) {
	prompt := strings.ReplaceAll(classifyPrompt, "{query}", query)

	raw, err := r.gen.Generate(ctx, r.model, prompt)
	if err != nil {
		return Result{}, err
	}

	var v modelVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &v); err != nil {
		return Result{}, fmt.Errorf("parsing classification: %w", err)
	}

	primary, ok := parseSpecialist(v.Primary)
	if !ok {
		return Result{}, fmt.Errorf("unknown specialist %q", v.Primary)
	}

	var secondary []Specialist
	for _, s := range v.Secondary {
		if sp, ok := parseSpecialist(s); ok && sp != primary {
			secondary = append(secondary, sp)
		}
	}

	confidence := v.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Primary:    primary,
		Secondary:  secondary,
		Confidence: confidence,
		Reasoning:  v.Reasoning,
	}, nil
}

func parseSpecialist(s string) (Specialist, bool) {
	switch Specialist(strings.ToLower(strings.TrimSpace(s))) {
	case SpecialistFiscal:
		return SpecialistFiscal, true
	case SpecialistLabor:
		return SpecialistLabor, true
	case SpecialistMarket:
		return SpecialistMarket, true
	default:
		return SpecialistGeneral, false
	}
}

// extractJSON strips code fences and surrounding prose around the
// outermost JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
