// Package pluginhub is a Go client for the pluginhubd HTTP API.
package pluginhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the pluginhubd API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Plugin is one plugin revision as served by /api/v1/plugins.
type Plugin struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	IsStateless     bool      `json:"is_stateless"`
	UpdatedAt       time.Time `json:"updated_at"`
	DeclaredImports []string  `json:"declared_imports,omitempty"`
	Configurations  int       `json:"configurations"`
}

// PluginConfig is one tenant configuration with the state of its unit.
type PluginConfig struct {
	ID          int64          `json:"id"`
	PluginID    int64          `json:"plugin_id"`
	TeamID      int64          `json:"team_id"`
	Order       int            `json:"order"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SettingKeys []string       `json:"setting_keys,omitempty"`
	State       string         `json:"state"`
	UsedImports []string       `json:"used_imports,omitempty"`
}

// Schedule maps a scheduled task name to the configuration ids exporting it.
type Schedule map[string][]int64

// Status summarises the latest reconciliation cycle.
type Status struct {
	Ready          bool     `json:"ready"`
	Plugins        int      `json:"plugins"`
	Configurations int      `json:"configurations"`
	CycleID        string   `json:"cycle_id,omitempty"`
	Loaded         int      `json:"loaded"`
	Reused         int      `json:"reused"`
	Shared         int      `json:"shared"`
	TornDown       int      `json:"torn_down"`
	DurationMillis int64    `json:"duration_ms"`
	Errors         []string `json:"errors,omitempty"`
}

// ReloadResult reports how a reload request was handled.
type ReloadResult struct {
	Queued    bool `json:"queued"`
	Broadcast bool `json:"broadcast"`
}

// APIError is returned for any response with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pluginhub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Plugins lists every plugin revision.
func (c *Client) Plugins(ctx context.Context) ([]Plugin, error) {
	var out []Plugin
	if err := c.do(ctx, http.MethodGet, "/api/v1/plugins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PluginConfigs lists a team's configurations in execution order. A zero
// teamID lists every configuration.
func (c *Client) PluginConfigs(ctx context.Context, teamID int64) ([]PluginConfig, error) {
	var query url.Values
	if teamID > 0 {
		query = url.Values{"team_id": {strconv.FormatInt(teamID, 10)}}
	}
	var out []PluginConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/plugin-configs", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Schedule returns the scheduled task table.
func (c *Client) Schedule(ctx context.Context) (Schedule, error) {
	var out Schedule
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedule", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the latest cycle summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return out, err
}

// Reload asks the service to run a reconciliation cycle.
func (c *Client) Reload(ctx context.Context) (ReloadResult, error) {
	var out ReloadResult
	err := c.do(ctx, http.MethodPost, "/api/v1/reload", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if query != nil {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		} else {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
