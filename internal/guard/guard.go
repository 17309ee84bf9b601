// Package guard verifies grounded answers against their evidence.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asesorlab/advisor/internal/llm"
	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/logger"
	"github.com/asesorlab/advisor/internal/prompt"
)

// Verdict is the verifier's strict-JSON contract: when Supported is
// false, RevisedAnswer replaces the original text; when true, it equals
// the original.
type Verdict struct {
	Supported     bool   `json:"supported"`
	Issue         string `json:"issue"`
	RevisedAnswer string `json:"revised_answer"`
}

// Outcome is the result of verifying one answer.
type Outcome struct {
	// Answer is the final text after verification.
	Answer string

	// Triggered is true when the verifier rewrote the answer.
	Triggered bool

	// ParseFailed is true when the verifier output was malformed and
	// the fail-open policy kept the original answer.
	ParseFailed bool
}

// Verifier re-checks grounded answers with a second model call.
type Verifier struct {
	gen   llm.Generator
	model string

	// failClosed discards the answer on malformed verifier output
	// instead of keeping it. Default is fail-open: a valid grounded
	// answer should not be lost to a verifier formatting slip.
	failClosed bool

	log *logger.Logger
}

// New creates a verifier.
func New(gen llm.Generator, model string, failClosed bool, log *logger.Logger) *Verifier {
	return &Verifier{
		gen:        gen,
		model:      model,
		failClosed: failClosed,
		log:        log,
	}
}

// Verify checks answer against contextText. A verification call failure
// keeps the original answer (degrade, not discard). Malformed output
// follows the configured parse policy.
func (v *Verifier) Verify(ctx context.Context, query, contextText, answer string) (Outcome, error) {
	guardPrompt := prompt.AssembleGuard(query, contextText, answer)

	raw, err := v.gen.Generate(ctx, v.model, guardPrompt)
	if err != nil {
		v.log.Warn("Guard call failed, keeping original answer", "error", err)
		return Outcome{Answer: answer}, nil
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		if v.failClosed {
			return Outcome{}, apperrors.GuardMalformedError(err)
		}
		v.log.Warn("Guard output malformed, keeping original answer", "error", err)
		return Outcome{Answer: answer, ParseFailed: true}, nil
	}

	if verdict.Supported {
		return Outcome{Answer: answer}, nil
	}

	revised := strings.TrimSpace(verdict.RevisedAnswer)
	if revised == "" {
		// An unsupported verdict without a replacement is itself a
		// contract violation; treat it like malformed output.
		if v.failClosed {
			return Outcome{}, apperrors.GuardMalformedError(fmt.Errorf("unsupported verdict with empty revised_answer"))
		}
		v.log.Warn("Guard returned unsupported verdict without revision, keeping original")
		return Outcome{Answer: answer, ParseFailed: true}, nil
	}

	v.log.Info("Guard rewrote unsupported answer", "issue", verdict.Issue)

	return Outcome{Answer: revised, Triggered: true}, nil
}

// ParseVerdict parses the verifier's output defensively: code fences
// and surrounding prose are tolerated, but the payload itself must be
// the required JSON object.
func ParseVerdict(raw string) (Verdict, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return Verdict{}, fmt.Errorf("no JSON object in guard output")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return Verdict{}, fmt.Errorf("invalid guard JSON: %w", err)
	}
	if _, ok := probe["supported"]; !ok {
		return Verdict{}, fmt.Errorf(`guard JSON missing "supported" field`)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return Verdict{}, fmt.Errorf("guard JSON shape mismatch: %w", err)
	}

	return verdict, nil
}

// extractJSON returns the outermost JSON object within raw, or "".
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return raw[start : end+1]
}
