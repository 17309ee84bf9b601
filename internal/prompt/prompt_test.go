package prompt

import (
	"strings"
	"testing"

	"github.com/asesorlab/advisor/internal/retrieval"
)

func sampleChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{
			ID:                      "c1",
			DocumentTitle:           "Guía del modelo 303",
			Content:                 "El modelo 303 se presenta trimestralmente.",
			SimilarityScore:         0.81,
			SourceConfidencePercent: 90,
		},
		{
			ID:                      "c2",
			DocumentTitle:           "Calendario fiscal 2025",
			Content:                 "Los plazos de presentación son abril, julio, octubre y enero.",
			SimilarityScore:         0.65,
			SourceConfidencePercent: 85,
		},
	}
}

func TestAssemble_GroundedVariant(t *testing.T) {
	p := Assemble("¿cuándo presento el IVA?", sampleChunks())

	if p.Variant != VariantGrounded {
		t.Fatalf("Variant = %s, want grounded", p.Variant)
	}

	if strings.Contains(p.Text, "{context}") || strings.Contains(p.Text, "{query}") {
		t.Error("placeholders left unfilled")
	}

	for _, want := range []string{
		"¿cuándo presento el IVA?",
		"[1] Guía del modelo 303 (Confianza: 90%)",
		"[2] Calendario fiscal 2025 (Confianza: 85%)",
		"Fuentes consultadas",
	} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("grounded prompt missing %q", want)
		}
	}
}

func TestAssemble_NoEvidenceVariant(t *testing.T) {
	p := Assemble("¿cuándo presento el IVA?", nil)

	if p.Variant != VariantNoEvidence {
		t.Fatalf("Variant = %s, want no_evidence", p.Variant)
	}

	if strings.Contains(p.Text, "{query}") {
		t.Error("query placeholder left unfilled")
	}

	// The refusal prompt must not instruct the model to emit sources.
	if strings.Contains(p.Text, "Fuentes consultadas") {
		t.Error("no-evidence prompt must not mention a sources section")
	}
	if !strings.Contains(p.Text, "asesor profesional") {
		t.Error("no-evidence prompt should recommend a professional")
	}
}

func TestAssembleGuard(t *testing.T) {
	got := AssembleGuard("consulta", "contexto de prueba", "respuesta candidata")

	for _, want := range []string{"contexto de prueba", "respuesta candidata", `"supported"`, `"revised_answer"`} {
		if !strings.Contains(got, want) {
			t.Errorf("guard prompt missing %q", want)
		}
	}

	for _, placeholder := range []string{"{context}", "{query}", "{answer}"} {
		if strings.Contains(got, placeholder) {
			t.Errorf("placeholder %s left unfilled", placeholder)
		}
	}
}

func TestFormatContext_Numbering(t *testing.T) {
	ctx := FormatContext(sampleChunks())

	if !strings.HasPrefix(ctx, "[1] ") {
		t.Error("context should start with the first numbered source")
	}
	if !strings.Contains(ctx, "\n\n[2] ") {
		t.Error("sources should be separated blocks numbered in order")
	}
}
