package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/match"
	"github.com/facturio/factura-cli/internal/model"
)

// failureReasonLimit caps the backend failure text carried in a fallback
// record's observations.
const failureReasonLimit = 50

// invoiceSchema rejects completions that parse as JSON but do not have the
// shape of an invoice record. Types are validated; values are not.
const invoiceSchema = `{
	"type": "object",
	"properties": {
		"invoice_number": {"type": ["string", "null"]},
		"date": {"type": ["string", "null"]},
		"vendor_name": {"type": ["string", "null"]},
		"total_amount": {"type": ["number", "string", "null"]},
		"currency": {"type": ["string", "null"]},
		"type": {"type": ["string", "null"]},
		"category": {"type": ["string", "null"]},
		"consumption": {"type": ["number", "string", "null"]},
		"consumption_unit": {"type": ["string", "null"]},
		"unit_price": {"type": ["number", "string", "null"]},
		"period": {"type": ["string", "null"]},
		"taxes": {"type": ["number", "string", "null"]},
		"power": {"type": ["string", "null"]},
		"observations": {"type": ["string", "null"]}
	}
}`

var compiledInvoiceSchema = jsonschema.MustCompileString("invoice.json", invoiceSchema)

// completionRecord is the tolerant wire shape of a model completion. Numeric
// fields accept strings because small local models frequently quote numbers.
type completionRecord struct {
	InvoiceNumber string `json:"invoice_number"`
	Date          string `json:"date"`
	VendorName    string `json:"vendor_name"`
	TotalAmount   any    `json:"total_amount"`
	Currency      string `json:"currency"`
	Type          string `json:"type"`
	Category      string `json:"category"`
	Consumption   any    `json:"consumption"`
	Unit          string `json:"consumption_unit"`
	UnitPrice     any    `json:"unit_price"`
	Period        string `json:"period"`
	Taxes         any    `json:"taxes"`
	Power         string `json:"power"`
	Observations  string `json:"observations"`
}

// Reconcile merges a raw completion with the regex hints into the final
// record. The hints always win for the fields they cover. A completion that
// cannot be parsed or does not validate produces a fallback record built from
// the hints alone; this path never fails.
func Reconcile(raw string, hints model.ExtractionHints) *model.Invoice {
	clean := stripFences(raw)

	var doc any
	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		zap.L().Warn("pipeline: completion is not valid json", zap.Error(err))
		return fallbackRecord(raw, hints)
	}
	if err := compiledInvoiceSchema.Validate(doc); err != nil {
		zap.L().Warn("pipeline: completion failed schema validation", zap.Error(err))
		return fallbackRecord("respuesta con formato inesperado", hints)
	}

	var cr completionRecord
	if err := json.Unmarshal([]byte(clean), &cr); err != nil {
		zap.L().Warn("pipeline: completion decode failed", zap.Error(err))
		return fallbackRecord(raw, hints)
	}

	rec := &model.Invoice{
		InvoiceNumber: strings.TrimSpace(cr.InvoiceNumber),
		Date:          strings.TrimSpace(cr.Date),
		VendorName:    strings.TrimSpace(cr.VendorName),
		Currency:      strings.TrimSpace(cr.Currency),
		Type:          strings.TrimSpace(cr.Type),
		Category:      strings.TrimSpace(cr.Category),
		Unit:          strings.TrimSpace(cr.Unit),
		Period:        strings.TrimSpace(cr.Period),
		Power:         strings.TrimSpace(cr.Power),
		Observations:  strings.TrimSpace(cr.Observations),
	}
	if v, ok := numberValue(cr.TotalAmount); ok {
		rec.TotalAmount = v
	}
	if v, ok := numberValue(cr.Consumption); ok {
		rec.Consumption = &v
	}
	if v, ok := numberValue(cr.UnitPrice); ok {
		rec.UnitPrice = &v
	}
	if v, ok := numberValue(cr.Taxes); ok {
		rec.Taxes = &v
	}

	applyHints(rec, hints)
	applyDefaults(rec)
	return rec
}

// applyHints forces the regex-detected values over the model's output. Only
// fields with a captured hint are overridden.
func applyHints(rec *model.Invoice, hints model.ExtractionHints) {
	if hints.InvoiceNumber != "" {
		rec.InvoiceNumber = hints.InvoiceNumber
	}
	if hints.Date != "" {
		rec.Date = hints.Date
	}
	if hints.Category != "" {
		rec.Category = hints.Category
	}
	if hints.VendorName != "" {
		rec.VendorName = hints.VendorName
	}
	if hints.TotalAmount != nil {
		rec.TotalAmount = *hints.TotalAmount
	}
}

// applyDefaults normalizes the constant fields every record carries.
func applyDefaults(rec *model.Invoice) {
	if rec.InvoiceNumber == "" {
		rec.InvoiceNumber = model.UnknownValue
	}
	if rec.VendorName == "" {
		rec.VendorName = model.UnknownVendor
	}
	if rec.Category == "" {
		rec.Category = model.DefaultCategory
	}
	if rec.Currency == "" {
		rec.Currency = model.DefaultCurrency
	}
	if rec.Type == "" {
		rec.Type = model.DefaultType
	}
}

// fallbackRecord builds the minimal record from the hints when the completion
// is unusable. The observations name the failure so the record is auditable.
func fallbackRecord(reason string, hints model.ExtractionHints) *model.Invoice {
	rec := &model.Invoice{
		InvoiceNumber: hints.InvoiceNumber,
		Date:          hints.Date,
		VendorName:    hints.VendorName,
		Category:      hints.Category,
		Observations:  "Extraído vía Regex (IA falló: " + truncate(strings.TrimSpace(reason), failureReasonLimit) + ")",
	}
	if hints.TotalAmount != nil {
		rec.TotalAmount = *hints.TotalAmount
	}
	applyDefaults(rec)
	return rec
}

// stripFences removes markdown code fences a model may wrap around its JSON.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// numberValue coerces a decoded JSON value into a float. Strings are parsed
// leniently, tolerating comma decimal separators.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := match.ParseDecimal(n)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
