package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/store"
)

// fakeCompleter records the last prompt and returns a scripted response.
type fakeCompleter struct {
	response       string
	lastPrompt     string
	lastStructured bool
	calls          int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, structured bool) string {
	f.calls++
	f.lastPrompt = prompt
	f.lastStructured = structured
	return f.response
}

// fakeStore is an in-memory store.Store covering what the pipeline touches.
type fakeStore struct {
	mu        sync.Mutex
	providers []model.ProviderProfile
	logs      []model.ExtractionLog
	invoices  []model.Invoice
	settings  map[string]string

	listProvidersErr error
	appendLogErr     error
}

func newFakeStore(providers ...model.ProviderProfile) *fakeStore {
	return &fakeStore{providers: providers, settings: map[string]string{}}
}

func (f *fakeStore) SaveInvoice(_ context.Context, inv *model.Invoice) (*model.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := *inv
	saved.ID = int64(len(f.invoices) + 1)
	f.invoices = append(f.invoices, saved)
	return &saved, nil
}

func (f *fakeStore) GetInvoice(_ context.Context, id int64) (*model.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.invoices {
		if f.invoices[i].ID == id {
			inv := f.invoices[i]
			return &inv, nil
		}
	}
	return nil, eris.New("not found")
}

func (f *fakeStore) ListInvoices(_ context.Context, _ store.InvoiceFilter) ([]model.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Invoice(nil), f.invoices...), nil
}

func (f *fakeStore) DeleteInvoice(_ context.Context, _ int64) error { return nil }

func (f *fakeStore) ListProviders(_ context.Context) ([]model.ProviderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listProvidersErr != nil {
		return nil, f.listProvidersErr
	}
	return append([]model.ProviderProfile(nil), f.providers...), nil
}

func (f *fakeStore) SaveProvider(_ context.Context, p model.ProviderProfile) (*model.ProviderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, p)
	return &p, nil
}

func (f *fakeStore) ReplaceProviders(_ context.Context, profiles []model.ProviderProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append([]model.ProviderProfile(nil), profiles...)
	return nil
}

func (f *fakeStore) AppendExtractionLog(_ context.Context, log *model.ExtractionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendLogErr != nil {
		return f.appendLogErr
	}
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeStore) ListExtractionLogs(_ context.Context, _ int) ([]model.ExtractionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ExtractionLog(nil), f.logs...), nil
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[key], nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

func (f *fakeStore) ListSettings(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.settings))
	for k, v := range f.settings {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) Migrate(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                    { return nil }

// fakeOCR returns canned text for any path.
type fakeOCR struct {
	text string
	err  error
	last string
}

func (f *fakeOCR) ExtractText(_ context.Context, path string) (string, error) {
	f.last = path
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
