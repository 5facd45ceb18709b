package model

// Pattern field names recognized in a provider profile.
const (
	FieldVendor        = "vendor"
	FieldTaxID         = "tax_id"
	FieldInvoiceNumber = "invoice_number"
	FieldDate          = "date"
	FieldTotalAmount   = "total_amount"
	FieldConsumption   = "consumption"
)

// ProviderProfile is a named vendor's configuration bundle: display metadata
// plus ordered regular-expression lists per field. Patterns are tried in
// listed order; the first match wins for that field.
type ProviderProfile struct {
	ID         int64               `json:"id,omitempty" yaml:"-"`
	Name       string              `json:"name" yaml:"name"`
	VendorName string              `json:"vendor_name" yaml:"vendor_name"`
	Category   string              `json:"category" yaml:"category"`
	Patterns   map[string][]string `json:"patterns" yaml:"patterns"`
}

// FieldPatterns returns the ordered pattern list for a field, or nil.
func (p ProviderProfile) FieldPatterns(field string) []string {
	if p.Patterns == nil {
		return nil
	}
	return p.Patterns[field]
}

// ScoreRecord is a per-candidate diagnostic emitted during provider matching.
// It feeds the extraction audit log and never affects control flow beyond
// best-score selection.
type ScoreRecord struct {
	Provider string   `json:"provider"`
	Score    int      `json:"score"`
	Matches  []string `json:"matches"`
}
