package llm

import (
	"testing"
	"time"

	"github.com/asesorlab/advisor/internal/config"
)

func TestGeneratorWithTimeout(t *testing.T) {
	c := &Client{cfg: config.GeminiConfig{GenerateTimeoutMs: 30000}}

	g, ok := c.GeneratorWithTimeout(8 * time.Second).(*timeoutGenerator)
	if !ok {
		t.Fatal("expected a timeoutGenerator")
	}
	if g.timeout != 8*time.Second {
		t.Errorf("timeout = %v, want 8s", g.timeout)
	}
}

func TestGeneratorWithTimeoutZeroFallsBack(t *testing.T) {
	c := &Client{cfg: config.GeminiConfig{GenerateTimeoutMs: 30000}}

	g := c.GeneratorWithTimeout(0).(*timeoutGenerator)
	if g.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want the default generation timeout", g.timeout)
	}
}
