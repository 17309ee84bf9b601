// Package tools answers fully-computable questions without a model call.
package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InvoiceInput holds the extracted operands of an invoice-total request.
type InvoiceInput struct {
	Base     float64
	IVARate  float64
	IRPFRate float64
}

// InvoiceResult holds the computed invoice amounts, rounded to cents.
type InvoiceResult struct {
	IVAAmount  float64
	IRPFAmount float64
	Total      float64
}

// ParseOutcome is the tagged result of intent parsing: either a full
// match with all operands, or no match at all. Partial or ambiguous
// extraction reports NoMatch and control passes to the normal pipeline.
type ParseOutcome struct {
	Matched bool
	Input   InvoiceInput
}

// NoMatch is the outcome for queries the dispatcher does not handle.
var NoMatch = ParseOutcome{}

// intent keywords: at least one must be present for the grammar to apply.
var intentWords = map[string]bool{
	"factura":   true,
	"total":     true,
	"calcula":   true,
	"calcular":  true,
	"calculame": true,
	"calcúlame": true,
}

// operand keywords mapped to their field.
type field int

const (
	fieldBase field = iota
	fieldIVA
	fieldIRPF
)

var operandWords = map[string]field{
	"base":      fieldBase,
	"imponible": fieldBase,
	"iva":       fieldIVA,
	"irpf":      fieldIRPF,
	"retencion": fieldIRPF,
	"retención": fieldIRPF,
}

// filler tokens skipped when scanning for an operand's number.
// Conjunctions are deliberately absent: "y"/"e" separate operand
// clauses, so the scan must stop there.
var fillerWords = map[string]bool{
	"de": true, "del": true, "un": true, "una": true, "el": true, "la": true,
	"al": true, "es": true, "euros": true, "€": true,
	"con": true, "aplicando": true,
}

// ParseInvoiceQuery tests query against the invoice-total grammar.
// Numbers accept Spanish localized formatting (thousands separator ".",
// decimal separator ","). A keyword bound to two different numbers, or
// any missing operand, yields NoMatch.
func ParseInvoiceQuery(query string) ParseOutcome {
	tokens := tokenize(query)

	hasIntent := false
	found := make(map[field]float64)
	conflict := false

	for i, tok := range tokens {
		if intentWords[tok] {
			hasIntent = true
			continue
		}

		f, ok := operandWords[tok]
		if !ok {
			continue
		}

		value, ok := numberNear(tokens, i)
		if !ok {
			continue
		}

		if prev, seen := found[f]; seen && prev != value {
			conflict = true
		}
		found[f] = value
	}

	if conflict || !hasIntent || len(found) != 3 {
		return NoMatch
	}

	return ParseOutcome{
		Matched: true,
		Input: InvoiceInput{
			Base:     found[fieldBase],
			IVARate:  found[fieldIVA],
			IRPFRate: found[fieldIRPF],
		},
	}
}

// numberNear finds the number bound to the operand keyword at index i:
// first by scanning ahead past filler tokens, then one token back
// (covers "21% de iva").
func numberNear(tokens []string, i int) (float64, bool) {
	for j := i + 1; j < len(tokens) && j <= i+3; j++ {
		if fillerWords[tokens[j]] {
			continue
		}
		if v, ok := parseLocalizedNumber(tokens[j]); ok {
			return v, true
		}
		break
	}

	for j := i - 1; j >= 0 && j >= i-2; j-- {
		if fillerWords[tokens[j]] {
			continue
		}
		if v, ok := parseLocalizedNumber(tokens[j]); ok {
			return v, true
		}
		break
	}

	return 0, false
}

// tokenize lowercases and splits the query, trimming sentence punctuation
// from token edges while preserving separators inside numbers.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Trim(f, ",.;:¿?¡!()\"'")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// parseLocalizedNumber parses a Spanish-formatted number, tolerating a
// trailing percent sign or euro symbol.
func parseLocalizedNumber(tok string) (float64, bool) {
	tok = strings.TrimSuffix(tok, "%")
	tok = strings.TrimSuffix(tok, "€")
	if tok == "" {
		return 0, false
	}

	// "." is the thousands separator, "," the decimal separator.
	normalized := strings.ReplaceAll(tok, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Compute applies the invoice arithmetic with per-line cent rounding.
func Compute(in InvoiceInput) InvoiceResult {
	iva := round2(in.Base * in.IVARate / 100)
	irpf := round2(in.Base * in.IRPFRate / 100)

	return InvoiceResult{
		IVAAmount:  iva,
		IRPFAmount: irpf,
		Total:      round2(in.Base + iva - irpf),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatAnswer renders the deterministic Spanish answer for an invoice
// computation.
func FormatAnswer(in InvoiceInput, res InvoiceResult) string {
	var b strings.Builder

	b.WriteString("Cálculo de la factura:\n\n")
	fmt.Fprintf(&b, "- Base imponible: %s €\n", formatAmount(in.Base))
	fmt.Fprintf(&b, "- IVA (%s%%): +%s €\n", formatRate(in.IVARate), formatAmount(res.IVAAmount))
	fmt.Fprintf(&b, "- Retención IRPF (%s%%): −%s €\n", formatRate(in.IRPFRate), formatAmount(res.IRPFAmount))
	fmt.Fprintf(&b, "\n**Total factura: %s €**", formatAmount(res.Total))

	return b.String()
}

// formatAmount renders an amount with Spanish separators and two decimals.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	intPart, decPart := parts[0], parts[1]

	var grouped strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(d)
	}

	return sign + grouped.String() + "," + decPart
}

// formatRate renders a percentage without trailing zeros.
func formatRate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return strings.ReplaceAll(s, ".", ",")
}
