package llm

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/asesorlab/advisor/internal/pkg/errors"
	"github.com/asesorlab/advisor/internal/pkg/logger"
)

// Answer is the outcome of one model invocation, including fallback accounting.
type Answer struct {
	// Text is the generated answer.
	Text string

	// ModelUsed is the model that produced the final text.
	ModelUsed string

	// UsedFallback is true when the primary attempt failed.
	UsedFallback bool

	// PrimaryMs is the wall time of the primary attempt.
	PrimaryMs int64

	// FallbackMs is the wall time of the fallback attempt, if taken.
	FallbackMs int64
}

// TotalMs is the wall time of whichever attempt produced the final answer.
func (a Answer) TotalMs() int64 {
	if a.UsedFallback {
		return a.FallbackMs
	}
	return a.PrimaryMs
}

// Invoker calls the primary model and escalates exactly once to the fallback.
type Invoker struct {
	gen      Generator
	primary  string
	fallback string
	log      *logger.Logger
}

// NewInvoker creates an invoker for the given model pair.
func NewInvoker(gen Generator, primary, fallback string, log *logger.Logger) *Invoker {
	return &Invoker{
		gen:      gen,
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Invoke generates an answer for prompt. On primary failure it retries once
// against the fallback model; no further retries. Both attempts failing
// surfaces as FALLBACK_MODEL_FAILURE.
func (i *Invoker) Invoke(ctx context.Context, prompt string) (Answer, error) {
	primaryStart := time.Now()
	text, primaryErr := i.gen.Generate(ctx, i.primary, prompt)
	primaryMs := time.Since(primaryStart).Milliseconds()

	if primaryErr == nil {
		return Answer{
			Text:      text,
			ModelUsed: i.primary,
			PrimaryMs: primaryMs,
		}, nil
	}

	primaryFailure := apperrors.PrimaryModelError(primaryErr)
	i.log.Warn("Primary model failed, escalating to fallback",
		"primary", i.primary,
		"fallback", i.fallback,
		"error", primaryFailure,
	)

	fallbackStart := time.Now()
	text, fallbackErr := i.gen.Generate(ctx, i.fallback, prompt)
	fallbackMs := time.Since(fallbackStart).Milliseconds()

	if fallbackErr != nil {
		// The surfaced error keeps both causes.
		return Answer{
			UsedFallback: true,
			PrimaryMs:    primaryMs,
			FallbackMs:   fallbackMs,
		}, apperrors.FallbackModelError(errors.Join(primaryFailure, fallbackErr))
	}

	return Answer{
		Text:         text,
		ModelUsed:    i.fallback,
		UsedFallback: true,
		PrimaryMs:    primaryMs,
		FallbackMs:   fallbackMs,
	}, nil
}
