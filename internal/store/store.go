// Package store persists invoices, provider patterns, runtime settings and
// extraction audit logs behind a single interface with SQLite and Postgres
// implementations.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/facturio/factura-cli/internal/model"
)

// ErrDuplicateInvoice is returned when an invoice with the same number and
// vendor already exists. Records holding the unknown placeholder number are
// never treated as duplicates of each other.
var ErrDuplicateInvoice = eris.New("store: duplicate invoice")

// InvoiceFilter specifies criteria for listing invoices.
type InvoiceFilter struct {
	Category string `json:"category,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Type     string `json:"type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Invoices
	SaveInvoice(ctx context.Context, inv *model.Invoice) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error

	// Provider patterns, in stable registration order
	ListProviders(ctx context.Context) ([]model.ProviderProfile, error)
	SaveProvider(ctx context.Context, p model.ProviderProfile) (*model.ProviderProfile, error)
	ReplaceProviders(ctx context.Context, profiles []model.ProviderProfile) error

	// Extraction audit trail
	AppendExtractionLog(ctx context.Context, log *model.ExtractionLog) error
	ListExtractionLogs(ctx context.Context, limit int) ([]model.ExtractionLog, error)

	// Runtime settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
