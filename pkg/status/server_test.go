// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/metrics"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

// ============================================================
// Test Helpers
// ============================================================

type fakeSource struct {
	mu   sync.Mutex
	snap museum.Snapshot
}

func (f *fakeSource) Snapshot() museum.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(snap museum.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func sampleSnapshot() museum.Snapshot {
	return museum.Snapshot{
		RunID:            "run-1",
		State:            enigma.StateRunning,
		Connected:        true,
		FunctionMode:     enigma.ModeEncode,
		Delay:            60,
		Config:           enigma.DefaultDeviceConfig(),
		GroupSize:        5,
		CharacterDelayMS: 2500,
		LastInput:        "H",
		LastOutput:       "U",
		Message:          "HELLO WORLD",
		CurrentCharIndex: 2,
		CurrentText:      "UR",
		Log: []museum.LogEntry{
			{Time: time.Now(), Message: "Demonstration started"},
			{Time: time.Now(), Message: "Mismatch: <b>", IsError: true},
		},
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{snap: sampleSnapshot()}
	s, err := New(cfg, src, metrics.NewRegistry(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, src
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ============================================================
// Route Tests
// ============================================================

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	tests := []struct {
		path     string
		status   int
		contains []string
	}{
		{"/health", http.StatusOK, []string{`"status":"ok"`, `"state":"running"`}},
		{"/status", http.StatusOK, []string{"Enigma Museum Status", "A III IV I", "VF PQ", "Encode", "H &rarr; U", "Mismatch: &lt;b&gt;"}},
		{"/message", http.StatusOK, []string{"Current Message", "Encoded Message", `<span class="current">E</span>`, "UR"}},
		{"/metrics", http.StatusOK, []string{"enigmatouch_characters_exchanged_total"}},
		{"/nope", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			body := rec.Body.String()
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
}

func TestRootRedirects(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := get(t, s.Handler(), "/")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/status" {
		t.Errorf("GET / = %d %q, want redirect to /status", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAPIStatus(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := get(t, s.Handler(), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["state"] != "running" || got["function_mode"] != "Encode" || got["last_input"] != "H" {
		t.Errorf("api status = %v", got)
	}
	cfg, _ := got["config"].(map[string]any)
	if cfg["rotor_set"] != "A III IV I" {
		t.Errorf("config = %v", cfg)
	}
}

func TestMessagePage_Interactive(t *testing.T) {
	s, src := newTestServer(t, Config{})
	snap := sampleSnapshot()
	snap.FunctionMode = enigma.ModeInteractive
	snap.LastInput, snap.LastOutput = "Q", "D"
	src.set(snap)

	body := get(t, s.Handler(), "/message").Body.String()
	for _, want := range []string{"Input Letter", "Encoded Letter", "Q", "D"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, Config{Username: "curator", Password: "secret"})
	h := s.Handler()

	if rec := get(t, h, "/status"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200 without auth", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("curator", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestSlides(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "common"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "common", "1.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestServer(t, Config{SlidesDir: dir})
	rec := get(t, s.Handler(), "/slides/common/1.png")
	if rec.Code != http.StatusOK || rec.Body.String() != "png" {
		t.Errorf("slide = %d %q", rec.Code, rec.Body.String())
	}
}

// ============================================================
// Websocket Tests
// ============================================================

func TestWebsocketPush(t *testing.T) {
	s, src := newTestServer(t, Config{PushInterval: time.Hour})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	read := func() museum.Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		var snap museum.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			t.Fatalf("invalid snapshot: %v", err)
		}
		return snap
	}

	if first := read(); first.RunID != "run-1" {
		t.Errorf("first snapshot RunID = %q", first.RunID)
	}

	bus := events.NewBus()
	ch, cancelSub := bus.Subscribe(8)
	defer cancelSub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Push(ctx, ch)

	next := sampleSnapshot()
	next.RunID = "run-2"
	src.set(next)
	bus.Publish(events.LogLine{Base: events.Now(), Message: "tick"})

	if got := read(); got.RunID != "run-2" {
		t.Errorf("pushed snapshot RunID = %q, want run-2", got.RunID)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
