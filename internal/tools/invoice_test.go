package tools

import (
	"strings"
	"testing"
)

func TestParseInvoiceQuery_Golden(t *testing.T) {
	out := ParseInvoiceQuery("Calcula el total de una factura con base 1000, IVA 21% e IRPF 15%")
	if !out.Matched {
		t.Fatal("expected match")
	}

	if out.Input.Base != 1000 || out.Input.IVARate != 21 || out.Input.IRPFRate != 15 {
		t.Errorf("extracted %+v, want base 1000 / iva 21 / irpf 15", out.Input)
	}

	res := Compute(out.Input)
	if res.IVAAmount != 210.00 {
		t.Errorf("IVAAmount = %f, want 210.00", res.IVAAmount)
	}
	if res.IRPFAmount != 150.00 {
		t.Errorf("IRPFAmount = %f, want 150.00", res.IRPFAmount)
	}
	if res.Total != 1060.00 {
		t.Errorf("Total = %f, want 1060.00", res.Total)
	}
}

func TestParseInvoiceQuery_LocalizedNumbers(t *testing.T) {
	out := ParseInvoiceQuery("¿Total de factura con base imponible de 1.234,56€, IVA 21% y retención 15%?")
	if !out.Matched {
		t.Fatal("expected match")
	}
	if out.Input.Base != 1234.56 {
		t.Errorf("Base = %f, want 1234.56", out.Input.Base)
	}
}

func TestParseInvoiceQuery_RateBeforeKeyword(t *testing.T) {
	out := ParseInvoiceQuery("factura: base 2000 con un 10% de IVA y un 7% de IRPF, ¿total?")
	if !out.Matched {
		t.Fatal("expected match")
	}
	if out.Input.IVARate != 10 || out.Input.IRPFRate != 7 {
		t.Errorf("rates = %+v, want iva 10 / irpf 7", out.Input)
	}
}

func TestParseInvoiceQuery_NoMatch(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing operand", "calcula el total de la factura con base 1000 e IVA 21%"},
		{"no intent keyword", "base 1000 IVA 21 IRPF 15"},
		{"not an invoice question", "¿cuándo presento el modelo 303?"},
		{"conflicting numbers", "factura con iva 21% y base 1000, iva 10% e irpf 15%"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out := ParseInvoiceQuery(tt.query); out.Matched {
				t.Errorf("expected NoMatch, extracted %+v", out.Input)
			}
		})
	}
}

func TestCompute_Rounding(t *testing.T) {
	// 333.33 * 21% = 69.9993 -> 70.00; 333.33 * 15% = 49.9995 -> 50.00
	res := Compute(InvoiceInput{Base: 333.33, IVARate: 21, IRPFRate: 15})
	if res.IVAAmount != 70.00 {
		t.Errorf("IVAAmount = %f, want 70.00", res.IVAAmount)
	}
	if res.IRPFAmount != 50.00 {
		t.Errorf("IRPFAmount = %f, want 50.00", res.IRPFAmount)
	}
	if res.Total != 353.33 {
		t.Errorf("Total = %f, want 353.33", res.Total)
	}
}

func TestFormatAnswer(t *testing.T) {
	in := InvoiceInput{Base: 1000, IVARate: 21, IRPFRate: 15}
	got := FormatAnswer(in, Compute(in))

	for _, want := range []string{"1.000,00 €", "210,00 €", "150,00 €", "1.060,00 €", "21%"} {
		if !strings.Contains(got, want) {
			t.Errorf("answer missing %q:\n%s", want, got)
		}
	}

	// Deterministic answers never carry a sources section.
	if strings.Contains(got, "Fuentes consultadas") {
		t.Error("tool answer must not contain a sources section")
	}
}

func TestFormatAmountNegative(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{-100, "-100,00"},
		{-1000, "-1.000,00"},
		{-1234567.89, "-1.234.567,89"},
		{1060, "1.060,00"},
	}

	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%f) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAnswerNegativeTotal(t *testing.T) {
	// A retention above 100% drives the total negative; the sign must
	// precede the grouped digits.
	in := InvoiceInput{Base: 100, IVARate: 0, IRPFRate: 200}
	got := FormatAnswer(in, Compute(in))

	if !strings.Contains(got, "-100,00 €") {
		t.Errorf("answer missing negative total:\n%s", got)
	}
	if strings.Contains(got, "-.") {
		t.Errorf("separator placed after the sign:\n%s", got)
	}
}

func TestParseLocalizedNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1000", 1000, true},
		{"1.000", 1000, true},
		{"1.000,50", 1000.50, true},
		{"21%", 21, true},
		{"15,5%", 15.5, true},
		{"250€", 250, true},
		{"iva", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseLocalizedNumber(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLocalizedNumber(%q) = %f, %v; want %f, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
