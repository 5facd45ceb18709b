package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturio/factura-cli/internal/agent"
	"github.com/facturio/factura-cli/internal/config"
	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/pipeline"
	"github.com/facturio/factura-cli/internal/store"
)

const o2Invoice = `Telefónica de España - O2
CIF: A-78923125
Número de factura: OM7VMJI018222
Fecha de emisión: 5 de Marzo de 2025
Importe total: 45,50 EUR
`

// fakeAI scripts the completion backend.
type fakeAI struct {
	response   string
	lastPrompt string
}

func (f *fakeAI) Complete(_ context.Context, prompt string, _ bool) string {
	f.lastPrompt = prompt
	return f.response
}

// fakeOCR ignores the file and returns canned text or a scripted failure.
type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) ExtractText(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type testEnv struct {
	server *Server
	store  store.Store
	ai     *fakeAI
	ocr    *fakeOCR
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	ai := &fakeAI{response: "{}"}
	ocr := &fakeOCR{text: o2Invoice}
	p := pipeline.New(st, ai, agent.NewLoader(filepath.Join(dir, "no-agent")), ocr)

	srv := New(st, p,
		config.ServerConfig{Port: 8000, CORSOrigins: []string{"*"}, UploadDir: filepath.Join(dir, "uploads")},
		config.AlertsConfig{ConsumptionThreshold: 0.20, PriceThreshold: 0.15},
	)
	return &testEnv{server: srv, store: st, ai: ai, ocr: ocr}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	fmt.Fprint(fw, "%PDF-1.4 fake content")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedInvoice(t *testing.T, inv model.Invoice) model.Invoice {
	t.Helper()
	saved, err := e.store.SaveInvoice(context.Background(), &inv)
	require.NoError(t, err)
	return *saved
}

func floatPtr(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadExtractsAndPersists(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "factura-o2.pdf")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Status  string        `json:"status"`
		Invoice model.Invoice `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "OM7VMJI018222", resp.Invoice.InvoiceNumber)
	assert.Equal(t, "O2", resp.Invoice.VendorName)
	assert.Equal(t, "Telecom", resp.Invoice.Category)
	assert.NotZero(t, resp.Invoice.ID)
	assert.Contains(t, resp.Invoice.FilePath, "factura-o2.pdf")
}

func TestUploadDuplicateRejected(t *testing.T) {
	env := newTestEnv(t)

	first := env.upload(t, "factura-o2.pdf")
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.upload(t, "factura-o2-copia.pdf")
	require.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "duplicada")
}

func TestUploadUnreadableDocumentStillProcessed(t *testing.T) {
	// A document the OCR cannot read still yields a best-effort record and
	// its audit log; only infrastructure faults fail an upload.
	env := newTestEnv(t)
	env.ocr.err = fmt.Errorf("no text layer")

	rec := env.upload(t, "escaneo-roto.pdf")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Invoice model.Invoice `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown", resp.Invoice.InvoiceNumber)

	logs := env.do(t, http.MethodGet, "/extraction-logs", nil)
	require.Equal(t, http.StatusOK, logs.Code)
	assert.Contains(t, logs.Body.String(), "escaneo-roto.pdf")
}

func TestUploadStoreFailureIsServerError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	rec := env.upload(t, "factura-o2.pdf")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReports(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-01-01", VendorName: "Iberdrola",
		TotalAmount: 80, Currency: "EUR", Type: "Purchase", Category: "Electricity",
	})
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-2", Date: "2025-01-02", VendorName: "O2",
		TotalAmount: 45.50, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})

	rec := env.do(t, http.MethodGet, "/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var invoices []model.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	assert.Len(t, invoices, 2)

	rec = env.do(t, http.MethodGet, "/reports?category=Telecom", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	require.Len(t, invoices, 1)
	assert.Equal(t, "O2", invoices[0].VendorName)
}

func TestReportsEmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/reports", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAdvancedStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-01-01", VendorName: "Iberdrola",
		TotalAmount: 75, Currency: "EUR", Type: "Purchase", Category: "Electricity",
		Consumption: floatPtr(300), Unit: "kWh",
	})
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-2", Date: "2025-01-02", VendorName: "O2",
		TotalAmount: 25, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})

	rec := env.do(t, http.MethodGet, "/advanced-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Distribution []categoryStat   `json:"distribution"`
		Efficiency   []efficiencyStat `json:"efficiency"`
		TotalCost    float64          `json:"total_cost"`
		InvoiceCount int              `json:"invoice_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 100.0, resp.TotalCost)
	assert.Equal(t, 2, resp.InvoiceCount)

	require.Len(t, resp.Distribution, 2)
	assert.Equal(t, "Electricity", resp.Distribution[0].Name)
	assert.Equal(t, 75.0, resp.Distribution[0].Value)
	assert.Equal(t, 75.0, resp.Distribution[0].Percent)

	require.Len(t, resp.Efficiency, 1)
	assert.Equal(t, "Electricity", resp.Efficiency[0].Category)
	assert.Equal(t, 0.25, resp.Efficiency[0].CostPerUnit)
	assert.Equal(t, "kWh", resp.Efficiency[0].Unit)
}

func TestDeleteInvoice(t *testing.T) {
	env := newTestEnv(t)
	saved := env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-01-01", VendorName: "O2",
		TotalAmount: 45.50, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/invoices/%d", saved.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/invoices/%d", saved.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteInvoiceBadID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/invoices/abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-03-05", VendorName: "O2",
		TotalAmount: 45.50, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})
	env.ai.response = "Gastaste 45,50 EUR."

	rec := env.do(t, http.MethodPost, "/chat", map[string]string{"query": "¿Cuánto gasté?"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), "45,50")
	assert.Contains(t, env.ai.lastPrompt, "Factura FAC-1: PROVEEDOR O2")
}

func TestChatRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", map[string]string{"query": "  "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowValidate(t *testing.T) {
	env := newTestEnv(t)
	saved := env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-03-05", VendorName: "O2",
		TotalAmount: 45.50, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})
	env.ai.response = `{"status":"OK","alerts":[],"reasons":[],"missing_fields":[]}`

	rec := env.do(t, http.MethodPost, "/workflow/validar-factura", workflowRequest{InvoiceID: saved.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var res pipeline.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "OK", res.Status)
}

func TestWorkflowValidateMissingInvoice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/workflow/validar-factura", workflowRequest{InvoiceID: 99})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/workflow/validar-factura", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowKPIsDirection(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-03-05", VendorName: "O2",
		TotalAmount: 45.50, Currency: "EUR", Type: "Purchase", Category: "Telecom",
	})
	env.ai.response = "## KPIs PRINCIPALES"

	rec := env.do(t, http.MethodPost, "/workflow/kpis-direccion", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "KPIs PRINCIPALES")
}

func TestWorkflowAlertsUsesCategoryHistory(t *testing.T) {
	env := newTestEnv(t)
	saved := env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-1", Date: "2025-03-05", VendorName: "Iberdrola",
		TotalAmount: 90, Currency: "EUR", Type: "Purchase", Category: "Electricity",
		Consumption: floatPtr(400), Unit: "kWh",
	})
	env.seedInvoice(t, model.Invoice{
		InvoiceNumber: "FAC-2", Date: "2025-02-05", VendorName: "Iberdrola",
		TotalAmount: 60, Currency: "EUR", Type: "Purchase", Category: "Electricity",
		Consumption: floatPtr(300), Unit: "kWh",
	})
	env.ai.response = "## ALERTAS DETECTADAS"

	rec := env.do(t, http.MethodPost, "/workflow/alertas", workflowRequest{InvoiceID: saved.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, env.ai.lastPrompt, `"avg_total": 60`)
	assert.Contains(t, env.ai.lastPrompt, `"consumption_increase_pct": 20`)
}

func TestPatternsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	put := env.do(t, http.MethodPut, "/patterns", patternsRequest{Providers: []model.ProviderProfile{{
		Name:       "o2",
		VendorName: "O2",
		Category:   "Telecom",
		Patterns:   map[string][]string{"vendor": {"O2"}},
	}}})
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	get := env.do(t, http.MethodGet, "/patterns", nil)
	require.Equal(t, http.StatusOK, get.Code)

	var resp struct {
		Providers []model.ProviderProfile `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "O2", resp.Providers[0].VendorName)
}

func TestPatternsValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/patterns", patternsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/patterns", patternsRequest{Providers: []model.ProviderProfile{{Name: ""}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractionLogs(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.upload(t, "factura-o2.pdf").Code)

	rec := env.do(t, http.MethodGet, "/extraction-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Logs []model.ExtractionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "factura-o2.pdf", resp.Logs[0].FileName)

	bad := env.do(t, http.MethodGet, "/extraction-logs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	put := env.do(t, http.MethodPut, "/settings", map[string]string{
		"ai_provider":       "anthropic",
		"anthropic_api_key": "sk-test",
	})
	require.Equal(t, http.StatusOK, put.Code)

	get := env.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, get.Code)

	var resp struct {
		Settings map[string]string `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &resp))
	assert.Equal(t, "anthropic", resp.Settings["ai_provider"])
}
