package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "PluginHub/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.events = append(n.events, ev)
	return n.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	log := &recordingNotifier{channel: ChannelLog}
	slack := &recordingNotifier{channel: ChannelSlack, err: errors.New("rate limited")}
	d := NewFanout(log, nil, slack)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnitLoadFailed})
	if err == nil || !strings.Contains(err.Error(), "channel slack") {
		t.Fatalf("expected slack error to surface, got %v", err)
	}
	if len(log.events) != 1 || len(slack.events) != 1 {
		t.Fatalf("expected one event per channel, got %d/%d", len(log.events), len(slack.events))
	}
}

func TestEventFromError(t *testing.T) {
	err := xerrors.Wrap(xerrors.CodeUnitLoadFailed, errors.New("boom"), "load plugin geoip",
		xerrors.WithMetadata("plugin_config_id", "42"))
	ev := EventFromError(err)
	if ev.Code != xerrors.CodeUnitLoadFailed || ev.Severity != xerrors.SeverityWarning {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Metadata["plugin_config_id"] != "42" {
		t.Fatalf("metadata not copied: %v", ev.Metadata)
	}
}

func TestSlackNotifierOverWebhook(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &SlackNotifier{Sender: NewWebhookSender(srv.URL), ChannelID: "#plugins"}
	ev := Event{
		Code:     xerrors.CodeUnitLoadFailed,
		Severity: xerrors.SeverityWarning,
		Message:  "load failed",
		Metadata: map[string]string{"plugin_config_id": "7"},
	}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["channel"] != "#plugins" || !strings.Contains(got["text"], "plugin config 7") {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestUnconfiguredSlackNotifierIsNoop(t *testing.T) {
	var n *SlackNotifier
	if err := n.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
