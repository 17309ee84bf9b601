// Package prompt builds the grounded-answer and refusal prompts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/asesorlab/advisor/internal/retrieval"
)

// Variant identifies which template produced a prompt.
type Variant string

const (
	// VariantGrounded instructs the model to answer only from the
	// supplied context with inline citations.
	VariantGrounded Variant = "grounded"

	// VariantNoEvidence instructs the model to refuse with generic
	// precautionary guidance and no fabricated facts.
	VariantNoEvidence Variant = "no_evidence"
)

const groundedTemplate = `Eres un asesor experto para trabajadores autónomos en España. Responde a la consulta usando EXCLUSIVAMENTE la información del contexto siguiente. No inventes ningún dato, cifra, plazo ni requisito que no aparezca en el contexto.

Reglas de cita:
- Inmediatamente después de cada afirmación tomada de la fuente N, añade el marcador [N].
- Cierra la respuesta con una sección "## Fuentes consultadas" que liste cada fuente citada como: [N] <título> (Confianza: XX%).

Contexto:
{context}

Consulta: {query}

Respuesta:`

const noEvidenceTemplate = `Eres un asesor para trabajadores autónomos en España. No se ha encontrado información suficiente en la base de conocimiento para responder a esta consulta.

Indica claramente que no dispones de información verificada sobre este tema. No inventes cifras, plazos ni requisitos. Puedes ofrecer únicamente orientación general de prudencia y recomienda consultar con un asesor profesional colegiado. No incluyas ninguna sección de fuentes.

Consulta: {query}

Respuesta:`

const guardTemplate = `Eres un verificador de respuestas. Comprueba si la RESPUESTA está completamente respaldada por el CONTEXTO. Cualquier cifra, plazo o requisito de la respuesta que no aparezca en el contexto la invalida.

CONTEXTO:
{context}

CONSULTA: {query}

RESPUESTA:
{answer}

Devuelve EXCLUSIVAMENTE un objeto JSON, sin texto adicional:
{"supported": true|false, "issue": "<problema detectado o cadena vacía>", "revised_answer": "<respuesta corregida usando solo el contexto; si supported es true, la respuesta original sin cambios>"}`

// Prompt is a filled template ready for the model.
type Prompt struct {
	Text    string
	Variant Variant
}

// Assemble selects and fills the template. The variant is decided
// exclusively by whether evidence exists; the two are never mixed.
func Assemble(query string, chunks []retrieval.Chunk) Prompt {
	if len(chunks) == 0 {
		return Prompt{
			Text:    strings.ReplaceAll(noEvidenceTemplate, "{query}", query),
			Variant: VariantNoEvidence,
		}
	}

	text := strings.ReplaceAll(groundedTemplate, "{context}", FormatContext(chunks))
	text = strings.ReplaceAll(text, "{query}", query)

	return Prompt{
		Text:    text,
		Variant: VariantGrounded,
	}
}

// AssembleGuard fills the verification prompt for a grounded answer.
func AssembleGuard(query, contextText, answer string) string {
	text := strings.ReplaceAll(guardTemplate, "{context}", contextText)
	text = strings.ReplaceAll(text, "{query}", query)
	return strings.ReplaceAll(text, "{answer}", answer)
}

// FormatContext renders the retrieved chunks as numbered evidence blocks.
// The numbering matches the [N] citation markers the model is told to use.
func FormatContext(chunks []retrieval.Chunk) string {
	var b strings.Builder

	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (Confianza: %d%%)\n%s",
			i+1, c.DocumentTitle, c.SourceConfidencePercent, c.Content)
	}

	return b.String()
}
