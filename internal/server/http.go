package server

import (
	"encoding/json"
	"net/http"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *ConfigServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/configs/{module}", s.handleBatchGetConfig)
	mux.HandleFunc("GET /v1/configs/{module}/{tenant}", s.handleGetConfig)
	mux.HandleFunc("PUT /v1/configs/{module}/{tenant}", s.handleSetConfig)
	mux.HandleFunc("DELETE /v1/configs/{module}/{tenant}", s.handleDeleteConfig)
	mux.HandleFunc("GET /v1/tenants/{tenant}/configs", s.handleTenantConfigs)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	}
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *ConfigServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
