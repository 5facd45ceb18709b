package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
	"github.com/facturio/factura-cli/internal/store"
)

// workflowRequest is the shared body for the invoice-scoped workflows.
type workflowRequest struct {
	InvoiceID int64 `json:"invoice_id"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.requestedInvoice(w, r)
	if !ok {
		return
	}

	all, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{})
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	history := fmt.Sprintf("Histórico de %d facturas procesadas", len(all))
	writeJSON(w, http.StatusOK, s.pipeline.ValidateInvoice(r.Context(), *inv, history))
}

func (s *Server) handleKPIsDirection(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{})
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"result": s.pipeline.ExecutiveKPIs(r.Context(), invoices),
	})
}

func (s *Server) handleKPIsClaim(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.requestedInvoice(w, r)
	if !ok {
		return
	}

	history, err := s.relatedInvoices(r.Context(), store.InvoiceFilter{Category: inv.Category}, inv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"result": s.pipeline.ClaimKPIs(r.Context(), *inv, "", history),
	})
}

func (s *Server) handleCompareSupplier(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.requestedInvoice(w, r)
	if !ok {
		return
	}

	history, err := s.relatedInvoices(r.Context(), store.InvoiceFilter{Vendor: inv.VendorName}, inv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"result": s.pipeline.CompareSupplier(r.Context(), *inv, history, ""),
	})
}

func (s *Server) handleMeetingSummary(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{})
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"result": s.pipeline.MeetingSummary(r.Context(), invoices, nil),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.requestedInvoice(w, r)
	if !ok {
		return
	}

	history, err := s.relatedInvoices(r.Context(), store.InvoiceFilter{Category: inv.Category}, inv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list invoices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"result": s.pipeline.CheckAlerts(r.Context(), *inv, historicalAverages(history), s.alerts),
	})
}

// requestedInvoice decodes the invoice_id body and loads the record. It
// writes the error response itself when the request is unusable.
func (s *Server) requestedInvoice(w http.ResponseWriter, r *http.Request) (*model.Invoice, bool) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == 0 {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return nil, false
	}
	inv, err := s.store.GetInvoice(r.Context(), req.InvoiceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "invoice not found")
		return nil, false
	}
	return inv, true
}

// relatedInvoices lists by filter and drops the invoice under analysis.
func (s *Server) relatedInvoices(ctx context.Context, filter store.InvoiceFilter, excludeID int64) ([]model.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		zap.L().Error("server: list invoices", zap.Error(err))
		return nil, err
	}
	out := invoices[:0]
	for _, inv := range invoices {
		if inv.ID != excludeID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// historicalAverages reduces the history to the averages the alert prompt
// expects. Nil consumption counts as zero, matching the report semantics.
func historicalAverages(history []model.Invoice) map[string]float64 {
	if len(history) == 0 {
		return nil
	}
	var totalSum, consSum float64
	for _, inv := range history {
		totalSum += inv.TotalAmount
		if inv.Consumption != nil {
			consSum += *inv.Consumption
		}
	}
	n := float64(len(history))
	return map[string]float64{
		"avg_total":       totalSum / n,
		"avg_consumption": consSum / n,
	}
}
