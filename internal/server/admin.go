package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
)

// defaultLogLimit bounds the extraction-log listing when no limit is given.
const defaultLogLimit = 10

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		zap.L().Error("server: list providers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list providers")
		return
	}
	if providers == nil {
		providers = []model.ProviderProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

type patternsRequest struct {
	Providers []model.ProviderProfile `json:"providers"`
}

// handlePutPatterns replaces the whole provider registry. The payload must
// name every provider; a partial update goes through SaveProvider instead.
func (s *Server) handlePutPatterns(w http.ResponseWriter, r *http.Request) {
	var req patternsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Providers) == 0 {
		writeError(w, http.StatusBadRequest, "providers list is empty")
		return
	}
	for _, p := range req.Providers {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.VendorName) == "" {
			writeError(w, http.StatusBadRequest, "every provider needs name and vendor_name")
			return
		}
	}

	if err := s.store.ReplaceProviders(r.Context(), req.Providers); err != nil {
		zap.L().Error("server: replace providers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save providers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Proveedores actualizados correctamente",
	})
}

func (s *Server) handleExtractionLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.store.ListExtractionLogs(r.Context(), limit)
	if err != nil {
		zap.L().Error("server: list extraction logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list extraction logs")
		return
	}
	if logs == nil {
		logs = []model.ExtractionLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		zap.L().Error("server: list settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	for key, value := range payload {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			zap.L().Error("server: set setting", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not save settings")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Configuración guardada correctamente",
	})
}
