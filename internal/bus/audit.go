package bus

import (
	"context"
	"encoding/json"

	"github.com/asesorlab/advisor/internal/pkg/logger"
)

// SubscribeAudit attaches a structured audit log to the answer topics.
// Every published answer event lands in the log with its trace id, so
// the log is a greppable audit trail even when no external consumer is
// connected.
func SubscribeAudit(ctx context.Context, b Bus, log *logger.Logger) error {
	handler := AuditHandler(log)
	for _, topic := range []string{TopicAnswerCompleted, TopicAnswerFailed} {
		if err := b.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

// AuditHandler returns a Handler that logs answer events.
func AuditHandler(log *logger.Logger) Handler {
	return func(_ context.Context, event Event) error {
		payload, err := decodeAnswerPayload(event.Payload)
		if err != nil {
			log.Warn("Audit event with unreadable payload", "event", event.ID, "type", event.Type, "error", err)
			return nil
		}

		log.Info("Answer event",
			"event", event.ID,
			"type", event.Type,
			"user", payload.UserID,
			"specialist", payload.Specialist,
			"grounding", payload.GroundingConfidence,
			"total_ms", payload.TotalMs,
			"used_fallback", payload.UsedFallbackModel,
			"tool_used", payload.ToolUsed,
			"error_code", payload.ErrorCode,
		)
		return nil
	}
}

// decodeAnswerPayload handles both in-process events (typed payload)
// and events that crossed the wire (payload as decoded JSON map).
func decodeAnswerPayload(v any) (AnswerPayload, error) {
	if payload, ok := v.(AnswerPayload); ok {
		return payload, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return AnswerPayload{}, err
	}
	var payload AnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AnswerPayload{}, err
	}
	return payload, nil
}
