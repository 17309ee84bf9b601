package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/asesorlab/advisor/internal/pkg/logger"
)

func captureLogger() (*logger.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &logger.Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}, &buf
}

func TestSubscribeAuditLogsAnswerEvents(t *testing.T) {
	log, buf := captureLogger()

	b := NewMemoryBus()
	if err := SubscribeAudit(context.Background(), b, log); err != nil {
		t.Fatalf("SubscribeAudit: %v", err)
	}

	event := NewAnswerEvent(TopicAnswerCompleted, AnswerPayload{
		TraceID:             "t1",
		UserID:              "u1",
		Specialist:          "fiscal",
		GroundingConfidence: "high",
		TotalMs:             120,
	})
	if err := b.Publish(context.Background(), TopicAnswerCompleted, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	b.Close() // drains in-flight handlers

	out := buf.String()
	if !strings.Contains(out, "t1") || !strings.Contains(out, "fiscal") {
		t.Errorf("audit log missing event fields: %q", out)
	}
}

func TestSubscribeAuditCoversFailedTopic(t *testing.T) {
	log, buf := captureLogger()

	b := NewMemoryBus()
	if err := SubscribeAudit(context.Background(), b, log); err != nil {
		t.Fatalf("SubscribeAudit: %v", err)
	}

	event := NewAnswerEvent(TopicAnswerFailed, AnswerPayload{
		TraceID:   "t2",
		ErrorCode: "FALLBACK_MODEL_FAILURE",
	})
	if err := b.Publish(context.Background(), TopicAnswerFailed, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	b.Close()

	if !strings.Contains(buf.String(), "FALLBACK_MODEL_FAILURE") {
		t.Errorf("audit log missing error code: %q", buf.String())
	}
}

func TestAuditHandlerDecodesWirePayload(t *testing.T) {
	log, buf := captureLogger()
	handler := AuditHandler(log)

	// Events consumed from Kafka arrive with the payload as a decoded
	// JSON map, not the typed struct.
	err := handler(context.Background(), Event{
		ID:   "t3",
		Type: TopicAnswerCompleted,
		Payload: map[string]any{
			"trace_id":   "t3",
			"specialist": "labor",
			"total_ms":   float64(80),
		},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "t3") || !strings.Contains(out, "labor") {
		t.Errorf("audit log missing decoded payload fields: %q", out)
	}
}
