package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// HTTPClient implements ConfigClient using the HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func configPath(module string, tenant model.TenantID) string {
	return "/v1/configs/" + url.PathEscape(module) + "/" + strconv.FormatInt(int64(tenant), 10)
}

func (c *HTTPClient) GetConfig(ctx context.Context, module string, tenant model.TenantID) (*Config, error) {
	var cfg Config
	if err := c.doJSON(ctx, http.MethodGet, configPath(module, tenant), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HTTPClient) GetConfigs(ctx context.Context, module string, tenants []model.TenantID) (map[model.TenantID]json.RawMessage, error) {
	if len(tenants) == 0 {
		return map[model.TenantID]json.RawMessage{}, nil
	}
	q := url.Values{}
	for _, t := range tenants {
		q.Add("tenant", strconv.FormatInt(int64(t), 10))
	}

	var resp struct {
		Configs map[model.TenantID]json.RawMessage `json:"configs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/configs/"+url.PathEscape(module)+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Configs == nil {
		resp.Configs = map[model.TenantID]json.RawMessage{}
	}
	return resp.Configs, nil
}

// SetConfig sends doc verbatim as the request body.
func (c *HTTPClient) SetConfig(ctx context.Context, module string, tenant model.TenantID, doc json.RawMessage) (*Config, error) {
	var cfg Config
	if err := c.doJSON(ctx, http.MethodPut, configPath(module, tenant), doc, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HTTPClient) DeleteConfig(ctx context.Context, module string, tenant model.TenantID) error {
	return c.doJSON(ctx, http.MethodDelete, configPath(module, tenant), nil, nil)
}

func (c *HTTPClient) TenantConfigs(ctx context.Context, tenant model.TenantID) (map[string]json.RawMessage, error) {
	var resp struct {
		Configs map[string]json.RawMessage `json:"configs"`
	}
	path := "/v1/tenants/" + strconv.FormatInt(int64(tenant), 10) + "/configs"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Configs == nil {
		resp.Configs = map[string]json.RawMessage{}
	}
	return resp.Configs, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError carrying a 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
// A json.RawMessage body is sent as-is.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
