package model

import (
	"strings"
	"time"
)

// Sentinel values the pipeline treats as "no value".
const (
	UnknownValue    = "unknown"
	UnknownVendor   = "Unknown"
	DefaultCurrency = "EUR"
	DefaultType     = "Purchase"
	DefaultCategory = "Other"

	// EnergyUnit is the unit forced onto consumption values recovered from
	// tariff-period breakdowns.
	EnergyUnit = "kWh"
)

// ExtractionHints holds field values recovered deterministically via regex
// during provider matching. Hints are embedded into the completion prompt and
// override the model's output for the same fields.
type ExtractionHints struct {
	VendorName    string   `json:"vendor_name,omitempty"`
	Category      string   `json:"category,omitempty"`
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	Date          string   `json:"date,omitempty"`
	TotalAmount   *float64 `json:"total_amount,omitempty"`
}

// IsEmpty reports whether no hint was captured at all.
func (h ExtractionHints) IsEmpty() bool {
	return h.VendorName == "" && h.Category == "" && h.InvoiceNumber == "" &&
		h.Date == "" && h.TotalAmount == nil
}

// Invoice is the final structured extraction record. Every field is always
// present in the pipeline's output; optional ones are nil when the document
// carries no value for them.
type Invoice struct {
	ID            int64    `json:"id,omitempty"`
	InvoiceNumber string   `json:"invoice_number"`
	Date          string   `json:"date"`
	VendorName    string   `json:"vendor_name"`
	TotalAmount   float64  `json:"total_amount"`
	Currency      string   `json:"currency"`
	Type          string   `json:"type"`
	Category      string   `json:"category"`
	FilePath      string   `json:"file_path,omitempty"`
	Consumption   *float64 `json:"consumption"`
	Unit          string   `json:"consumption_unit,omitempty"`
	UnitPrice     *float64 `json:"unit_price"`
	Period        string   `json:"period,omitempty"`
	Taxes         *float64 `json:"taxes"`
	Power         string   `json:"power,omitempty"`
	Observations  string   `json:"observations,omitempty"`
}

// InvoiceNumberEmpty reports whether the invoice number is absent or the
// "unknown" sentinel.
func (r Invoice) InvoiceNumberEmpty() bool {
	n := strings.TrimSpace(r.InvoiceNumber)
	return n == "" || strings.EqualFold(n, UnknownValue)
}

// DateEmpty reports whether the date is absent or the "unknown" sentinel.
func (r Invoice) DateEmpty() bool {
	d := strings.TrimSpace(r.Date)
	return d == "" || strings.EqualFold(d, UnknownValue)
}

// ConsumptionEmpty reports whether consumption is absent or numerically zero.
func (r Invoice) ConsumptionEmpty() bool {
	return r.Consumption == nil || *r.Consumption == 0
}

// ExtractionLog is the append-only audit record written once per processed
// document. Never mutated after creation.
type ExtractionLog struct {
	ID        string        `json:"id"`
	FileName  string        `json:"file_name"`
	RawText   string        `json:"raw_text"`
	Scores    []ScoreRecord `json:"matching_scores"`
	Result    Invoice       `json:"final_record"`
	CreatedAt time.Time     `json:"created_at"`
}
