package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"PluginHub/internal/registry"
	"PluginHub/internal/schedule"
)

type pluginView struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	IsStateless     bool      `json:"is_stateless"`
	UpdatedAt       time.Time `json:"updated_at"`
	DeclaredImports []string  `json:"declared_imports,omitempty"`
	Configurations  int       `json:"configurations"`
}

type configView struct {
	ID          int64          `json:"id"`
	PluginID    int64          `json:"plugin_id"`
	TeamID      int64          `json:"team_id"`
	Order       int            `json:"order"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SettingKeys []string       `json:"setting_keys,omitempty"`
	State       registry.State `json:"state"`
	UsedImports []string       `json:"used_imports,omitempty"`
}

type statusView struct {
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

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	reg := s.store.Load()
	counts := make(map[int64]int)
	for _, c := range reg.Configurations() {
		counts[c.PluginID]++
	}
	plugins := reg.Plugins()
	views := make([]pluginView, 0, len(plugins))
	for _, p := range plugins {
		views = append(views, pluginView{
			ID:              p.ID,
			Name:            p.Name,
			IsStateless:     p.IsStateless,
			UpdatedAt:       p.UpdatedAt,
			DeclaredImports: p.DeclaredImports,
			Configurations:  counts[p.ID],
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handlePluginConfigs 按执行顺序列出某个团队的插件配置；未指定 team_id 时按 id
// 列出全部配置。设置值可能包含凭据，因此只返回键名。
func (s *Server) handlePluginConfigs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	reg := s.store.Load()

	var configs []*registry.Configuration
	if raw := r.URL.Query().Get("team_id"); raw != "" {
		teamID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || teamID <= 0 {
			writeError(w, http.StatusBadRequest, "team_id must be a positive integer")
			return
		}
		configs = reg.TeamConfigurations(teamID)
	} else {
		configs = reg.Configurations()
	}

	views := make([]configView, 0, len(configs))
	for _, c := range configs {
		view := configView{
			ID:        c.ID,
			PluginID:  c.PluginID,
			TeamID:    c.TeamID,
			Order:     c.Order,
			UpdatedAt: c.UpdatedAt,
			State:     registry.StateUninitialized,
		}
		for key := range c.Settings {
			view.SettingKeys = append(view.SettingKeys, key)
		}
		sort.Strings(view.SettingKeys)
		if c.Unit != nil {
			view.State = c.Unit.State()
			view.UsedImports = c.Unit.UsedImports()
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	if s.schedule == nil {
		writeJSON(w, http.StatusOK, schedule.Schedule{})
		return
	}
	writeJSON(w, http.StatusOK, s.schedule.Schedule())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	reg := s.store.Load()
	view := statusView{
		Plugins:        len(reg.Plugins()),
		Configurations: reg.Len(),
	}
	if s.runner != nil {
		view.Ready = s.runner.Ready()
		if res := s.runner.LastResult(); res != nil {
			view.CycleID = res.CycleID
			view.Loaded = res.Loaded
			view.Reused = res.Reused
			view.Shared = res.Shared
			view.TornDown = res.TornDown
			view.DurationMillis = res.Duration.Milliseconds()
			for _, err := range res.Errors {
				view.Errors = append(view.Errors, err.Error())
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation is not running")
		return
	}

	// 配置了发布者时，本实例也会收到自己发出的消息。
	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), "api"); err != nil {
			s.log.Warn("reload broadcast failed, reloading locally", "error", err)
		} else {
			writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "broadcast": true})
			return
		}
	}
	queued := s.runner.Trigger("api")
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued, "broadcast": false})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
