package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/store"
)

// maxUploadBytes bounds the multipart form held in memory.
const maxUploadBytes = 32 << 20

// handleUpload receives a document, runs extraction and persists the result.
// Duplicate invoices are rejected and the uploaded file removed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		zap.L().Error("server: save upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store the uploaded file")
		return
	}

	// Text-extraction failures never surface here: the pipeline degrades to a
	// best-effort record. An error at this point is an infrastructure fault.
	rec, err := s.pipeline.ProcessFile(r.Context(), path)
	if err != nil {
		zap.L().Error("server: process upload", zap.String("file", header.Filename), zap.Error(err))
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, "could not process the document")
		return
	}

	saved, err := s.store.SaveInvoice(r.Context(), rec)
	if err != nil {
		os.Remove(path)
		if eris.Is(err, store.ErrDuplicateInvoice) {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("Factura duplicada: ya existe la factura Nº %s", rec.InvoiceNumber))
			return
		}
		zap.L().Error("server: save invoice", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save the invoice")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Factura procesada: %s", saved.InvoiceNumber),
		"invoice": saved,
	})
}

// saveUpload writes the upload under the configured directory. The name is
// flattened to its base to keep traversal out of the path.
func (s *Server) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", eris.Wrap(err, "server: create upload dir")
	}
	path := filepath.Join(s.cfg.UploadDir, filepath.Base(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "server: create upload file")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", eris.Wrap(err, "server: write upload file")
	}
	return path, nil
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	filter := store.InvoiceFilter{
		Category: r.URL.Query().Get("category"),
		Vendor:   r.URL.Query().Get("vendor"),
		Type:     r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	invoices, err := s.store.ListInvoices(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}
	if invoices == nil {
		invoices = []model.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

// categoryStat is one slice of the spend distribution.
type categoryStat struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// efficiencyStat is the cost-per-unit figure for one category.
type efficiencyStat struct {
	Category    string  `json:"category"`
	CostPerUnit float64 `json:"cost_per_unit"`
	Unit        string  `json:"unit"`
}

func (s *Server) handleAdvancedStats(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{})
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	totalCost := 0.0
	byCategory := map[string]float64{}
	type consumptionAgg struct {
		cost, units float64
		unit        string
	}
	consumption := map[string]*consumptionAgg{}

	for _, inv := range invoices {
		cat := inv.Category
		if cat == "" {
			cat = model.DefaultCategory
		}
		byCategory[cat] += inv.TotalAmount
		totalCost += inv.TotalAmount

		if inv.Consumption != nil && *inv.Consumption > 0 {
			agg, ok := consumption[cat]
			if !ok {
				agg = &consumptionAgg{unit: inv.Unit}
				consumption[cat] = agg
			}
			agg.cost += inv.TotalAmount
			agg.units += *inv.Consumption
		}
	}

	distribution := make([]categoryStat, 0, len(byCategory))
	for cat, amt := range byCategory {
		pct := 0.0
		if totalCost > 0 {
			pct = amt / totalCost * 100
		}
		distribution = append(distribution, categoryStat{Name: cat, Value: amt, Percent: pct})
	}
	sort.Slice(distribution, func(i, j int) bool { return distribution[i].Name < distribution[j].Name })

	efficiency := make([]efficiencyStat, 0, len(consumption))
	for cat, agg := range consumption {
		efficiency = append(efficiency, efficiencyStat{
			Category:    cat,
			CostPerUnit: agg.cost / agg.units,
			Unit:        agg.unit,
		})
	}
	sort.Slice(efficiency, func(i, j int) bool { return efficiency[i].Category < efficiency[j].Category })

	writeJSON(w, http.StatusOK, map[string]any{
		"distribution":  distribution,
		"efficiency":    efficiency,
		"total_cost":    totalCost,
		"invoice_count": len(invoices),
	})
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}

	if err := s.store.DeleteInvoice(r.Context(), id); err != nil {
		zap.L().Error("server: delete invoice", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete the invoice")
		return
	}

	// The database row is authoritative; a leftover file is only logged.
	if inv.FilePath != "" {
		if err := os.Remove(inv.FilePath); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("server: delete invoice file", zap.String("path", inv.FilePath), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Factura %s eliminada correctamente", inv.InvoiceNumber),
	})
}

type chatRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	invoices, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{})
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	context := invoiceContext(invoices)
	writeJSON(w, http.StatusOK, map[string]string{
		"response": s.pipeline.Chat(r.Context(), req.Query, context),
	})
}

// invoiceContext flattens the stored invoices into the line format the chat
// prompt expects.
func invoiceContext(invoices []model.Invoice) string {
	if len(invoices) == 0 {
		return "No hay facturas procesadas todavía."
	}
	var b strings.Builder
	for _, inv := range invoices {
		fmt.Fprintf(&b, "Factura %s: PROVEEDOR %s, TOTAL %.2f %s, TIPO %s, FECHA %s.\n",
			inv.InvoiceNumber, inv.VendorName, inv.TotalAmount, inv.Currency, inv.Type, inv.Date)
	}
	return b.String()
}
