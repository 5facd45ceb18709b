// Package server exposes the extraction pipeline and the invoice store over a
// REST API consumed by the web dashboard.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/config"
	"github.com/facturio/factura-cli/internal/pipeline"
	"github.com/facturio/factura-cli/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	cfg      config.ServerConfig
	alerts   config.AlertsConfig
}

// New creates a Server over its collaborators.
func New(st store.Store, p *pipeline.Pipeline, cfg config.ServerConfig, alerts config.AlertsConfig) *Server {
	return &Server{store: st, pipeline: p, cfg: cfg, alerts: alerts}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Post("/upload", s.handleUpload)
	r.Get("/reports", s.handleReports)
	r.Get("/advanced-stats", s.handleAdvancedStats)
	r.Delete("/invoices/{id}", s.handleDeleteInvoice)
	r.Post("/chat", s.handleChat)

	r.Route("/workflow", func(r chi.Router) {
		r.Post("/validar-factura", s.handleValidate)
		r.Post("/kpis-direccion", s.handleKPIsDirection)
		r.Post("/kpis-reclamacion", s.handleKPIsClaim)
		r.Post("/comparar-proveedor", s.handleCompareSupplier)
		r.Post("/resumen-reunion", s.handleMeetingSummary)
		r.Post("/alertas", s.handleAlerts)
	})

	r.Get("/patterns", s.handleGetPatterns)
	r.Put("/patterns", s.handlePutPatterns)
	r.Get("/extraction-logs", s.handleExtractionLogs)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
