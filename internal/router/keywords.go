package router

import "strings"

// Keyword lists per specialist. Matching is on lowercase substrings;
// accented and unaccented spellings are both listed.
var specialistKeywords = map[Specialist][]string{
	SpecialistFiscal: {
		"iva", "irpf", "impuesto", "hacienda", "modelo 303", "modelo 130",
		"modelo 100", "declaracion", "declaración", "deduccion", "deducción",
		"factura", "retencion", "retención", "tributa", "renta", "gasto deducible",
	},
	SpecialistLabor: {
		"seguridad social", "cotiza", "cuota de autonomo", "cuota de autónomo",
		"contrato", "contratar", "empleado", "trabajador", "nomina", "nómina",
		"baja", "alta", "reta", "tarifa plana", "pluriactividad", "jubilacion",
		"jubilación", "prestacion", "prestación",
	},
	SpecialistMarket: {
		"mercado", "competencia", "tarifa", "precio", "cliente", "sector",
		"demanda", "facturacion media", "facturación media", "cuanto cobrar",
		"cuánto cobrar", "honorarios",
	},
}

// classifyByKeywords scores each specialist by keyword hits.
// No hits at all degrades to the general specialist with confidence 0.
func classifyByKeywords(query string) Result {
	q := strings.ToLower(query)

	scores := make(map[Specialist]int)
	for specialist, keywords := range specialistKeywords {
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				scores[specialist]++
			}
		}
	}

	if len(scores) == 0 {
		return Result{Primary: SpecialistGeneral, Confidence: 0}
	}

	var best Specialist
	bestScore := 0
	total := 0
	for _, specialist := range []Specialist{SpecialistFiscal, SpecialistLabor, SpecialistMarket} {
		score := scores[specialist]
		total += score
		if score > bestScore {
			best = specialist
			bestScore = score
		}
	}

	var secondary []Specialist
	for _, specialist := range []Specialist{SpecialistFiscal, SpecialistLabor, SpecialistMarket} {
		if specialist != best && scores[specialist] > 0 {
			secondary = append(secondary, specialist)
		}
	}

	// Confidence grows with hit share and count but stays conservative:
	// keyword matching is a fallback, not a classifier.
	confidence := 0.5 * float64(bestScore) / float64(total)
	if bestScore >= 2 {
		confidence += 0.25
	}
	if confidence > 0.9 {
		confidence = 0.9
	}

	return Result{
		Primary:    best,
		Secondary:  secondary,
		Confidence: confidence,
		Reasoning:  "keyword match",
	}
}
