package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drksbr/facecam/internal/telemetry"
)

func TestStatusReflectsPublishedEvents(t *testing.T) {
	s := NewServer("", nil, nil, nil)
	s.Publish(Event{Kind: EventUploadOK, StatusCode: 200, FrameBytes: 1000})
	s.Publish(Event{Kind: EventUploadOK, StatusCode: 200})
	s.Publish(Event{Kind: EventReconnect})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Counts[EventUploadOK] != 2 || payload.Counts[EventReconnect] != 1 {
		t.Errorf("counts = %v", payload.Counts)
	}
	if payload.LinkUp {
		t.Error("link should be reported down after a reconnect event")
	}
	if payload.LastEvent == nil || payload.LastEvent.Kind != EventReconnect {
		t.Errorf("last event = %+v", payload.LastEvent)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	m.FramesCaptured.Inc()

	srv := httptest.NewServer(NewServer("", reg, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "facecam_frames_captured_total 1") {
		t.Fatalf("metrics missing counter:\n%s", body)
	}
	if !strings.Contains(string(body), `facecam_uploads_total{result="allocation"} 0`) {
		t.Fatalf("metrics missing pre-initialised upload results:\n%s", body)
	}
}

func TestEventsStreamOverWebsocket(t *testing.T) {
	s := NewServer("", nil, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Publish(Event{Kind: EventCaptureFailed, Error: "camera returned no frame"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != EventCaptureFailed || ev.Error == "" || ev.Time.IsZero() {
		t.Fatalf("event = %+v", ev)
	}
}
