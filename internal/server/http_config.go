package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
)

// maxDocumentSize bounds PUT bodies.
const maxDocumentSize = 1 << 20

// configResponse is the JSON shape of a single configuration document.
// Tenant ids are encoded as strings; they do not fit a JavaScript number.
type configResponse struct {
	Module  string          `json:"module"`
	Tenant  model.TenantID  `json:"tenant,string"`
	Data    json.RawMessage `json:"data"`
	Default bool            `json:"default,omitempty"`
}

func parseTenant(raw string) (model.TenantID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return model.TenantID(id), nil
}

// handleBatchGetConfig handles GET /v1/configs/{module}?tenant=...&tenant=...
func (s *ConfigServer) handleBatchGetConfig(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	raw := r.URL.Query()["tenant"]
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "at least one tenant query parameter is required")
		return
	}
	tenants := make([]model.TenantID, 0, len(raw))
	for _, v := range raw {
		tenant, err := parseTenant(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant id "+strconv.Quote(v))
			return
		}
		tenants = append(tenants, tenant)
	}

	docs, err := s.store.GetCogConfig(r.Context(), tenants, module)
	if err != nil {
		s.logger.Error("batch get failed", "module", module, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get configs")
		return
	}
	if docs == nil {
		docs = map[model.TenantID]json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "configs": docs})
}

// handleGetConfig handles GET /v1/configs/{module}/{tenant}.
func (s *ConfigServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	tenant, err := parseTenant(r.PathValue("tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	docs, err := s.store.GetCogConfig(r.Context(), []model.TenantID{tenant}, module)
	if err != nil {
		s.logger.Error("get failed", "module", module, "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get config")
		return
	}
	if doc, ok := docs[tenant]; ok {
		writeJSON(w, http.StatusOK, configResponse{Module: module, Tenant: tenant, Data: doc})
		return
	}

	if builtin, ok := builtinDefaults[module]; ok {
		doc, err := builtin()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode default config")
			return
		}
		writeJSON(w, http.StatusOK, configResponse{Module: module, Tenant: tenant, Data: doc, Default: true})
		return
	}
	writeError(w, http.StatusNotFound, "config not found")
}

// handleSetConfig handles PUT /v1/configs/{module}/{tenant}. The body is the
// document itself.
func (s *ConfigServer) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	tenant, err := parseTenant(r.PathValue("tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxDocumentSize {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	doc := json.RawMessage(body)
	if err := s.store.SetCogConfig(r.Context(), module, tenant, doc); err != nil {
		if errors.Is(err, store.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		s.logger.Error("set failed", "module", module, "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to set config")
		return
	}
	writeJSON(w, http.StatusOK, configResponse{Module: module, Tenant: tenant, Data: doc})
}

// handleDeleteConfig handles DELETE /v1/configs/{module}/{tenant}.
func (s *ConfigServer) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	tenant, err := parseTenant(r.PathValue("tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if _, err := s.store.DeleteCogConfig(r.Context(), module, tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "config not found")
			return
		}
		s.logger.Error("delete failed", "module", module, "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTenantConfigs handles GET /v1/tenants/{tenant}/configs.
func (s *ConfigServer) handleTenantConfigs(w http.ResponseWriter, r *http.Request) {
	tenant, err := parseTenant(r.PathValue("tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	configs, err := s.store.TenantConfigs(r.Context(), tenant)
	if err != nil {
		s.logger.Error("list tenant configs failed", "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":  strconv.FormatInt(int64(tenant), 10),
		"configs": configs,
	})
}
