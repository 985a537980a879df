package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamBroker_SubscribePublish(t *testing.T) {
	broker := NewStreamBroker(4)
	ch, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	expected := StreamEvent{
		Timestamp: time.Now().UTC(),
		RequestID: "req-1",
		ClientKey: "1.2.3.4",
		Tier:      "scraper",
		Method:    http.MethodGet,
		Path:      "/api/scrape/jobs",
		Allowed:   true,
		Status:    http.StatusOK,
	}

	broker.Publish(expected)

	select {
	case got := <-ch:
		if got.ClientKey != expected.ClientKey {
			t.Fatalf("expected client key %q, got %q", expected.ClientKey, got.ClientKey)
		}
		if got.Tier != expected.Tier {
			t.Fatalf("expected tier %q, got %q", expected.Tier, got.Tier)
		}
		if got.Path != expected.Path {
			t.Fatalf("expected path %q, got %q", expected.Path, got.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed event")
	}
}

func TestStreamBroker_UnsubscribeStopsDelivery(t *testing.T) {
	broker := NewStreamBroker(4)
	ch, unsubscribe := broker.Subscribe()
	unsubscribe()

	// Publishing after unsubscribe must not panic or block.
	broker.Publish(StreamEvent{Path: "/api/search/places"})

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
}

func TestStreamHandler_WebSocketReceivesEvent(t *testing.T) {
	broker := NewStreamBroker(4)
	handler := NewStreamHandler(broker)
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] // convert http:// to ws://
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(100 * time.Millisecond)

	expected := StreamEvent{
		Timestamp: time.Now().UTC(),
		RequestID: "req-2",
		ClientKey: "5.6.7.8",
		Tier:      "scraper",
		Method:    http.MethodGet,
		Path:      "/api/scrape/jobs",
		Allowed:   false,
		Status:    http.StatusTooManyRequests,
	}

	broker.Publish(expected)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StreamEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read websocket event: %v", err)
	}

	if got.ClientKey != expected.ClientKey {
		t.Fatalf("expected client key %q, got %q", expected.ClientKey, got.ClientKey)
	}
	if got.Status != expected.Status {
		t.Fatalf("expected status %d, got %d", expected.Status, got.Status)
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(NewStreamBroker(4))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/stream", nil)

	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
