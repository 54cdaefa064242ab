package pluginhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPluginConfigsSendsTeamAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plugin-configs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("team_id"); got != "7" {
			t.Fatalf("unexpected team_id %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization %q", got)
		}
		_ = json.NewEncoder(w).Encode([]PluginConfig{{ID: 11, TeamID: 7, State: "ready"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetToken("secret")

	configs, err := client.PluginConfigs(context.Background(), 7)
	if err != nil {
		t.Fatalf("plugin configs: %v", err)
	}
	if len(configs) != 1 || configs[0].ID != 11 || configs[0].State != "ready" {
		t.Fatalf("unexpected configs: %+v", configs)
	}
}

func TestReloadPostsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/reload" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ReloadResult{Queued: true})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	res, err := client.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !res.Queued {
		t.Fatalf("expected queued reload")
	}
}

func TestErrorResponsesBecomeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"team_id must be a positive integer"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.PluginConfigs(context.Background(), 7)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "team_id must be a positive integer" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
