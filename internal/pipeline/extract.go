// Package pipeline orchestrates document extraction end to end: OCR text,
// provider matching, prompt assembly, completion, reconciliation and the
// rescue pass. Every processed document leaves exactly one audit log behind,
// whatever happened along the way.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/agent"
	"github.com/facturio/factura-cli/internal/extract"
	"github.com/facturio/factura-cli/internal/match"
	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/ocr"
	"github.com/facturio/factura-cli/internal/registry"
	"github.com/facturio/factura-cli/internal/store"
)

// promptTextLimit caps how much document text is embedded in the completion
// prompt. Utility invoices front-load the identifying fields, so the head of
// the document is enough.
const promptTextLimit = 2500

// rawTextLimit caps the document text persisted in the audit log.
const rawTextLimit = 5000

// Completer abstracts the model backend for the pipeline.
type Completer interface {
	Complete(ctx context.Context, prompt string, structured bool) string
}

// Pipeline wires the extraction stages together.
type Pipeline struct {
	store store.Store
	ai    Completer
	agent *agent.Loader
	ocr   ocr.Extractor
}

// New assembles a Pipeline over its collaborators.
func New(st store.Store, ai Completer, loader *agent.Loader, extractor ocr.Extractor) *Pipeline {
	return &Pipeline{store: st, ai: ai, agent: loader, ocr: extractor}
}

// ProcessFile OCRs a document and runs the extraction pipeline over the
// resulting text. Text extraction failure is non-fatal: the pipeline
// continues with empty text, so the document still produces a best-effort
// record and its audit log. The returned record carries the source file path.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*model.Invoice, error) {
	text, err := p.ocr.ExtractText(ctx, path)
	if err != nil {
		zap.L().Warn("pipeline: text extraction failed, continuing with empty text",
			zap.String("file", path),
			zap.Error(err),
		)
		text = ""
	}
	rec, err := p.ProcessText(ctx, text, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	rec.FilePath = path
	return rec, nil
}

// ProcessText runs matching, completion, reconciliation and rescue over raw
// document text. It never fails on model errors; only infrastructure problems
// (loading profiles, writing the audit log) surface as errors.
func (p *Pipeline) ProcessText(ctx context.Context, text, filename string) (*model.Invoice, error) {
	profiles, err := p.loadProfiles(ctx)
	if err != nil {
		return nil, err
	}

	res := match.Best(text, registry.CompileAll(profiles))
	rescueHints(&res.Hints, text, res.Provider)

	prompt := p.extractionPrompt(res.Hints, text)
	raw := p.ai.Complete(ctx, prompt, true)

	rec := Reconcile(raw, res.Hints)
	extract.FillMissing(rec, text, res.Provider)

	logEntry := &model.ExtractionLog{
		FileName: filename,
		RawText:  truncate(text, rawTextLimit),
		Scores:   res.Scores,
		Result:   *rec,
	}
	if err := p.store.AppendExtractionLog(ctx, logEntry); err != nil {
		return nil, eris.Wrap(err, "pipeline: append extraction log")
	}

	zap.L().Info("pipeline: document processed",
		zap.String("file", filename),
		zap.String("vendor", rec.VendorName),
		zap.String("invoice_number", rec.InvoiceNumber),
	)
	return rec, nil
}

// loadProfiles reads the provider registry from the store, seeding the
// built-in profiles on first use so a fresh database still matches the common
// Spanish utilities.
func (p *Pipeline) loadProfiles(ctx context.Context) ([]model.ProviderProfile, error) {
	profiles, err := p.store.ListProviders(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list providers")
	}
	if len(profiles) > 0 {
		return profiles, nil
	}

	seeded, err := registry.DefaultProfiles()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load default profiles")
	}
	if err := p.store.ReplaceProviders(ctx, seeded); err != nil {
		return nil, eris.Wrap(err, "pipeline: seed providers")
	}
	zap.L().Info("pipeline: seeded default provider profiles", zap.Int("count", len(seeded)))
	return p.store.ListProviders(ctx)
}

// extractionPrompt builds the Spanish extraction prompt: behaviour rules,
// workflow instructions, the regex hints block and the field list, followed
// by the head of the document text.
func (p *Pipeline) extractionPrompt(hints model.ExtractionHints, text string) string {
	hintsJSON, err := json.MarshalIndent(hints, "", "  ")
	if err != nil {
		hintsJSON = []byte("{}")
	}

	var b strings.Builder
	b.WriteString(p.agent.CoreRules())
	b.WriteString("\n\n")
	if wf := p.agent.WorkflowInstructions(agent.WorkflowExtraction); wf != "" {
		b.WriteString(wf)
		b.WriteString("\n\n")
	}
	b.WriteString("DATOS DETECTADOS POR REGEX (Priorízalos si existen):\n")
	b.Write(hintsJSON)
	b.WriteString("\n\nExtrae TODOS los siguientes campos en formato JSON:\n\n")
	b.WriteString("- invoice_number: " + orDefault(hints.InvoiceNumber, "Número de factura") + "\n")
	b.WriteString("- date: " + orDefault(hints.Date, "Formato YYYY-MM-DD") + "\n")
	b.WriteString("- vendor_name: " + orDefault(hints.VendorName, "Nombre de la empresa") + "\n")
	b.WriteString("- total_amount: " + amountOrDefault(hints.TotalAmount, "Importe decimal") + "\n")
	b.WriteString("- currency: EUR\n")
	b.WriteString("- type: \"Purchase\"\n")
	b.WriteString("- category: " + orDefault(hints.Category, "Telecom, Electricity, Gas, Water u Other") + "\n")
	b.WriteString("- consumption: Número de consumo o null\n")
	b.WriteString("- consumption_unit: kWh, m3, GB o null\n")
	b.WriteString("- unit_price: Precio unitario o null\n")
	b.WriteString("- period: Periodo facturación\n")
	b.WriteString("- taxes: Impuestos totales\n")
	b.WriteString("- power: Potencia contratada o null\n")
	b.WriteString("- observations: Notas importantes o null\n")
	b.WriteString("\nTexto factura (primeros 2500 caracteres):\n")
	b.WriteString(truncate(text, promptTextLimit))
	b.WriteString("\n\nDevuelve JSON válido.")
	return b.String()
}

// rescueHints runs the field rescue over the matcher's hints so the prompt
// already carries deterministic values wherever the document yields them.
// Only the prompt-relevant fields flow back; consumption stays with the
// post-reconciliation rescue pass.
func rescueHints(h *model.ExtractionHints, text string, provider *registry.CompiledProfile) {
	rec := &model.Invoice{
		InvoiceNumber: h.InvoiceNumber,
		Date:          h.Date,
	}
	extract.FillMissing(rec, text, provider)
	if !rec.InvoiceNumberEmpty() {
		h.InvoiceNumber = rec.InvoiceNumber
	}
	if !rec.DateEmpty() {
		h.Date = rec.Date
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func amountOrDefault(v *float64, def string) string {
	if v != nil {
		return fmt.Sprintf("%g", *v)
	}
	return def
}

// truncate cuts s to at most n bytes without splitting a multibyte rune, so
// prompts and persisted text stay valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
