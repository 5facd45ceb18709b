// Package match selects the best provider profile for a document by weighted
// pattern scoring. Matching is pure: identical text and an unchanged profile
// list always produce the same result.
package match

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/registry"
)

// Weights per pattern family. The tax ID is the most discriminating signal.
const (
	weightVendor        = 5
	weightTaxID         = 10
	weightInvoiceNumber = 2
	weightDate          = 2
	weightTotalAmount   = 1
)

// spanishMonths maps lowercase Spanish month names to zero-padded numbers.
var spanishMonths = map[string]string{
	"enero": "01", "febrero": "02", "marzo": "03", "abril": "04",
	"mayo": "05", "junio": "06", "julio": "07", "agosto": "08",
	"septiembre": "09", "octubre": "10", "noviembre": "11", "diciembre": "12",
}

// Result is the outcome of matching a document against all profiles.
type Result struct {
	// Provider is the best-scoring profile, or nil when nothing matched.
	Provider *registry.CompiledProfile
	// Hints are the field values captured while scoring the winner.
	Hints model.ExtractionHints
	// BestScore is the winner's score, or -1 when no profile matched.
	BestScore int
	// Scores records every candidate for the audit log.
	Scores []model.ScoreRecord
}

// Best evaluates every profile against the text and picks the strictly
// highest scorer. Profiles are evaluated in slice order and ties break toward
// the earlier profile, so callers must pass a stable, registration-ordered
// slice.
func Best(text string, profiles []registry.CompiledProfile) Result {
	res := Result{BestScore: -1}

	for i := range profiles {
		p := &profiles[i]
		score, partial, matched := scoreProfile(text, p)

		res.Scores = append(res.Scores, model.ScoreRecord{
			Provider: p.Profile.Name,
			Score:    score,
			Matches:  matched,
		})

		if score > res.BestScore {
			res.BestScore = score
			res.Provider = p
			res.Hints = partial
		}
	}

	if res.Provider != nil {
		// The winner's identity always carries over, even when only
		// non-vendor patterns fired.
		if res.Hints.VendorName == "" {
			res.Hints.VendorName = res.Provider.Profile.VendorName
		}
		if res.Hints.Category == "" {
			res.Hints.Category = res.Provider.Profile.Category
		}
		zap.L().Info("match: provider selected",
			zap.String("provider", res.Provider.Profile.Name),
			zap.Int("score", res.BestScore),
		)
	} else {
		zap.L().Warn("match: no provider identified")
	}

	return res
}

// scoreProfile runs the five independent pattern families against the text.
// Each family stops at its first matching pattern; families never exclude
// each other.
func scoreProfile(text string, p *registry.CompiledProfile) (int, model.ExtractionHints, []string) {
	score := 0
	var partial model.ExtractionHints
	var matched []string

	for _, cp := range p.FieldPatterns(model.FieldVendor) {
		if cp.RE.MatchString(text) {
			partial.VendorName = p.Profile.VendorName
			partial.Category = p.Profile.Category
			score += weightVendor
			matched = append(matched, fmt.Sprintf("vendor:%s", cp.Source))
			break
		}
	}

	for _, cp := range p.FieldPatterns(model.FieldTaxID) {
		if cp.RE.MatchString(text) {
			score += weightTaxID
			matched = append(matched, fmt.Sprintf("tax_id:%s", cp.Source))
			break
		}
	}

	for _, cp := range p.FieldPatterns(model.FieldInvoiceNumber) {
		if m := cp.RE.FindStringSubmatch(text); m != nil {
			partial.InvoiceNumber = captureOrWhole(m)
			score += weightInvoiceNumber
			matched = append(matched, fmt.Sprintf("invoice_number:%s", cp.Source))
			break
		}
	}

	for _, cp := range p.FieldPatterns(model.FieldDate) {
		if m := cp.RE.FindStringSubmatch(text); m != nil {
			if len(m) == 4 {
				if d, ok := NormalizeDate(m[1], m[2], m[3]); ok {
					partial.Date = d
				}
			}
			score += weightDate
			matched = append(matched, fmt.Sprintf("date:%s", cp.Source))
			break
		}
	}

	for _, cp := range p.FieldPatterns(model.FieldTotalAmount) {
		if m := cp.RE.FindStringSubmatch(text); m != nil && len(m) >= 2 {
			// A capture that fails to parse is dropped silently; the
			// pattern still counts as matched.
			if v, err := ParseDecimal(m[1]); err == nil {
				partial.TotalAmount = &v
				score += weightTotalAmount
				matched = append(matched, fmt.Sprintf("total_amount:%s", cp.Source))
			}
			break
		}
	}

	return score, partial, matched
}

// captureOrWhole returns submatch group 1 when present, else the full match.
func captureOrWhole(m []string) string {
	if len(m) >= 2 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

// NormalizeDate converts a (day, month, year) capture into YYYY-MM-DD. The
// month may be a number or a Spanish month name; unrecognized names map to
// January, mirroring the tolerant behavior expected by downstream reports.
func NormalizeDate(day, month, year string) (string, bool) {
	day = strings.TrimSpace(day)
	month = strings.TrimSpace(month)
	year = strings.TrimSpace(year)
	if day == "" || month == "" || year == "" {
		return "", false
	}

	if len(year) == 2 {
		year = "20" + year
	}

	var mm string
	if isDigits(month) {
		mm = zeroPad(month)
	} else {
		var ok bool
		mm, ok = spanishMonths[strings.ToLower(month)]
		if !ok {
			mm = "01"
		}
	}

	return fmt.Sprintf("%s-%s-%s", year, mm, zeroPad(day)), true
}

// ParseDecimal parses a decimal string that may use a comma separator.
func ParseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func zeroPad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
