package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func sampleEvent() Event {
	return Event{
		Timestamp: "2026-08-30T12:00:00Z",
		Type:      EventBlocked,
		AgentID:   "support-agent",
		Action:    "delete_records",
		Band:      "red",
		Score:     85,
		Reason:    "Red-band autonomous agent is blocked for action",
	}
}

func TestSendPostsGenericPayload(t *testing.T) {
	var received []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := sampleEvent()
	err := Send(Config{URL: srv.URL, Format: "generic"}, event)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected application/json, got %s", contentType)
	}

	var got Event
	if err := json.Unmarshal(received, &got); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if got != event {
		t.Errorf("payload mismatch: got %+v, want %+v", got, event)
	}
}

func TestSendCustomHeaders(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer tok"}}
	if err := Send(cfg, sampleEvent()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("expected Authorization header, got %q", auth)
	}
}

func TestSendRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Send(Config{URL: srv.URL}, sampleEvent()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestSendDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := Send(Config{URL: srv.URL}, sampleEvent())
	if err == nil {
		t.Fatal("expected error on 4xx")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 attempt on 4xx, got %d", got)
	}
}

func TestFormatSlackPayload(t *testing.T) {
	body, err := FormatPayload("slack", sampleEvent())
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("slack payload not valid JSON: %v", err)
	}
	if _, ok := payload["blocks"]; !ok {
		t.Error("slack payload missing blocks")
	}
	if !strings.Contains(string(body), "support-agent") {
		t.Error("slack payload missing agent id")
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		band     string
		severity string
	}{
		{"red", "critical"},
		{"amber", "warning"},
		{"green", "info"},
	}
	for _, tt := range tests {
		event := sampleEvent()
		event.Band = tt.band
		body, err := FormatPayload("pagerduty", event)
		if err != nil {
			t.Fatal(err)
		}
		var payload struct {
			Payload struct {
				Severity string `json:"severity"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Payload.Severity != tt.severity {
			t.Errorf("band %s: expected severity %s, got %s", tt.band, tt.severity, payload.Payload.Severity)
		}
	}
}

func TestDispatcherFiltersByEventType(t *testing.T) {
	cfg := Config{URL: "http://example.invalid", Events: []string{EventBlocked}}
	if !matches(cfg.Events, Event{Type: EventBlocked}) {
		t.Error("expected blocked event to match")
	}
	if matches(cfg.Events, Event{Type: EventBandDrift}) {
		t.Error("expected band_drift event not to match")
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(sampleEvent()) // must not panic

	if NewDispatcher(nil) != nil {
		t.Error("expected nil dispatcher for empty config")
	}
}
