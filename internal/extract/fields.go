// Package extract fills missing invoice fields from raw text using regex.
// It runs twice per document: once to build hints before the completion call
// and again as the rescue pass over the reconciled record. Resolution order
// is always the matched provider's patterns first, then the generic fallback
// list, first match wins.
package extract

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/match"
	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/registry"
)

// minInvoiceNumberLen rejects captures too short to be a real invoice number.
const minInvoiceNumberLen = 4

var genericInvoiceNumber = mustPatterns(
	`(?i)n[úu]mero\s+de\s+factura[:\s]+([A-Z0-9][A-Z0-9\-/\*]{3,})`,
	`(?i)n[ºo°]\s*(?:de\s*)?factura[:\s]+([A-Z0-9][A-Z0-9\-/\*]{3,})`,
	`(?i)factura\s+(?:n[ºo°])?[:#]\s*([A-Z0-9][A-Z0-9\-/]{3,})`,
	`(?i)invoice\s+(?:number|no\.?)[:\s]+([A-Z0-9][A-Z0-9\-/]{3,})`,
)

var genericDate = mustPatterns(
	`(?i)(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\s+de\s+(\d{4})`,
	`(?i)fecha(?:\s+de\s+(?:emisi[óo]n|factura|cargo))?[:\s]+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`,
	`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`,
)

var genericConsumption = mustPatterns(
	`(?i)punta[^0-9]{0,15}([\d.,]+)\s*kwh[\s\S]{0,160}?llano[^0-9]{0,15}([\d.,]+)\s*kwh[\s\S]{0,160}?valle[^0-9]{0,15}([\d.,]+)\s*kwh`,
	`(?i)consumo[^0-9]{0,30}([\d.,]+)\s*kwh`,
	`(?i)([\d.,]+)\s*kwh`,
)

func mustPatterns(sources ...string) []registry.CompiledPattern {
	out := make([]registry.CompiledPattern, 0, len(sources))
	for _, s := range sources {
		out = append(out, registry.CompiledPattern{Source: s, RE: regexp.MustCompile(s)})
	}
	return out
}

// FillMissing fills any field of rec that passes its empty predicate, leaving
// populated fields untouched. provider may be nil (generic patterns only).
func FillMissing(rec *model.Invoice, text string, provider *registry.CompiledProfile) {
	if rec == nil || text == "" {
		return
	}
	if rec.InvoiceNumberEmpty() {
		if n, src, ok := findInvoiceNumber(text, candidates(provider, model.FieldInvoiceNumber, genericInvoiceNumber)); ok {
			rec.InvoiceNumber = n
			zap.L().Debug("extract: rescued invoice number", zap.String("pattern", src))
		}
	}
	if rec.DateEmpty() {
		if d, src, ok := findDate(text, candidates(provider, model.FieldDate, genericDate)); ok {
			rec.Date = d
			zap.L().Debug("extract: rescued date", zap.String("pattern", src))
		}
	}
	if rec.ConsumptionEmpty() {
		if v, src, ok := findConsumption(text, candidates(provider, model.FieldConsumption, genericConsumption)); ok {
			rec.Consumption = &v
			rec.Unit = model.EnergyUnit
			zap.L().Debug("extract: rescued consumption", zap.String("pattern", src))
		}
	}
}

// candidates concatenates the provider's patterns for a field before the
// generic fallbacks. Order is significant and must not be changed.
func candidates(provider *registry.CompiledProfile, field string, generic []registry.CompiledPattern) []registry.CompiledPattern {
	if provider == nil {
		return generic
	}
	pp := provider.FieldPatterns(field)
	if len(pp) == 0 {
		return generic
	}
	out := make([]registry.CompiledPattern, 0, len(pp)+len(generic))
	out = append(out, pp...)
	return append(out, generic...)
}

func findInvoiceNumber(text string, patterns []registry.CompiledPattern) (string, string, bool) {
	for _, cp := range patterns {
		m := cp.RE.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		got := m[0]
		if len(m) >= 2 && m[1] != "" {
			got = m[1]
		}
		got = strings.TrimSpace(got)
		if len(got) < minInvoiceNumberLen {
			continue
		}
		return got, cp.Source, true
	}
	return "", "", false
}

// findDate handles the two supported capture shapes: three groups (day,
// month, year) or one combined group holding a delimited date string.
func findDate(text string, patterns []registry.CompiledPattern) (string, string, bool) {
	for _, cp := range patterns {
		m := cp.RE.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		switch len(m) {
		case 4:
			if d, ok := match.NormalizeDate(m[1], m[2], m[3]); ok {
				return d, cp.Source, true
			}
		case 2:
			parts := strings.FieldsFunc(m[1], func(r rune) bool {
				return r == '/' || r == '-'
			})
			if len(parts) != 3 {
				continue
			}
			if d, ok := match.NormalizeDate(parts[0], parts[1], parts[2]); ok {
				return d, cp.Source, true
			}
		}
	}
	return "", "", false
}

// findConsumption sums a three-period tariff breakdown, or takes a single
// reading directly. A numeric group that fails to parse aborts only the
// current pattern.
func findConsumption(text string, patterns []registry.CompiledPattern) (float64, string, bool) {
	for _, cp := range patterns {
		m := cp.RE.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		groups := m[1:]
		switch len(groups) {
		case 3:
			total := 0.0
			ok := true
			for _, g := range groups {
				v, err := match.ParseDecimal(g)
				if err != nil {
					ok = false
					break
				}
				total += v
			}
			if ok {
				return total, cp.Source, true
			}
		case 1:
			if v, err := match.ParseDecimal(groups[0]); err == nil {
				return v, cp.Source, true
			}
		}
	}
	return 0, "", false
}
