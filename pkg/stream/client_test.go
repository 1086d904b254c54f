package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventinspect/eventinspect/pkg/live"
)

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientConfig{ProjectID: "p", EnvironmentID: "e"}, nil); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://x"}, nil); err == nil {
		t.Fatal("expected error for missing channel ids")
	}

	c, err := NewClient(ClientConfig{BaseURL: "http://x/", ProjectID: "p 1", EnvironmentID: "prod", Session: "s&1"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	want := "http://x/v1/stream?environmentId=prod&projectId=p+1&session=s%261"
	if c.streamURL != want {
		t.Fatalf("stream url = %q, want %q", c.streamURL, want)
	}
}

func TestClient_ReceivesFrames(t *testing.T) {
	bus := live.NewMemoryBus(nil)
	srv := newStreamServer(t, bus, HandlerConfig{})

	client, err := NewClient(ClientConfig{
		BaseURL:       srv.URL,
		ProjectID:     "p1",
		EnvironmentID: "prod",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer client.Stop()

	select {
	case msg := <-client.Messages():
		if msg.Type != MessageTypeConnected || msg.Connected == nil {
			t.Fatalf("first message %+v, want connected", msg)
		}
		if msg.Connected.ProjectID != "p1" {
			t.Fatalf("connected frame echoes wrong project %q", msg.Connected.ProjectID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connected frame")
	}

	evt := live.NewEvent("p1", "prod", "purchase", "https://x.test", live.Params{"transaction_id": "tx_1"}, nil, time.Now())
	if err := bus.Publish(context.Background(), "p1", "prod", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-client.Messages():
		if msg.Type != MessageTypeEvent || msg.Event == nil {
			t.Fatalf("message %+v, want event", msg)
		}
		if msg.Event.ID != evt.ID || msg.Event.Name != "purchase" {
			t.Fatalf("unexpected event %+v", msg.Event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event frame")
	}

	if client.State() != StateOpen {
		t.Fatalf("state = %q, want open", client.State())
	}
}

func TestClient_ReconnectsWithSameParameters(t *testing.T) {
	var dials atomic.Int64
	var queries sync.Map

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		queries.Store(n, r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "data: {\"type\":\"connected\",\"projectId\":\"p1\",\"environmentId\":\"prod\",\"session\":null}\n\n")
		// Terminate immediately so the client has to redial.
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:        srv.URL,
		ProjectID:      "p1",
		EnvironmentID:  "prod",
		Session:        "sess_9",
		ReconnectDelay: 30 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer client.Stop()

	// Drain so the run loop never blocks on the messages channel.
	go func() {
		for range client.Messages() {
		}
	}()

	deadline := time.After(5 * time.Second)
	for dials.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 dials, got %d", dials.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	first, _ := queries.Load(int64(1))
	second, _ := queries.Load(int64(2))
	if first != second {
		t.Fatalf("reconnect changed the query: %q vs %q", first, second)
	}
	if !strings.Contains(first.(string), "session=sess_9") {
		t.Fatalf("session parameter missing from redial query %q", first)
	}
}

func TestClient_StopCancelsPendingReconnect(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:        srv.URL,
		ProjectID:      "p1",
		EnvironmentID:  "prod",
		ReconnectDelay: 200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait for the first connection to fail and the reconnect wait to begin.
	deadline := time.After(3 * time.Second)
	for client.State() != StateReconnecting {
		select {
		case <-deadline:
			t.Fatalf("client never entered reconnecting, state %q", client.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
	dialed := dials.Load()

	client.Stop()

	if client.State() != StateClosed {
		t.Fatalf("state after stop = %q, want closed", client.State())
	}

	// The pending attempt must have been cancelled, not fired late.
	time.Sleep(400 * time.Millisecond)
	if dials.Load() != dialed {
		t.Fatalf("reconnect fired after stop: %d dials, had %d", dials.Load(), dialed)
	}

	// Messages channel is closed once stopped for good.
	if _, ok := <-client.Messages(); ok {
		t.Fatal("messages channel should be closed after stop")
	}
}

func TestClient_StartTwiceFails(t *testing.T) {
	bus := live.NewMemoryBus(nil)
	srv := newStreamServer(t, bus, HandlerConfig{})

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, ProjectID: "p1", EnvironmentID: "prod"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer client.Stop()

	if err := client.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}
}

func TestClient_StateTransitionsObserved(t *testing.T) {
	bus := live.NewMemoryBus(nil)
	srv := newStreamServer(t, bus, HandlerConfig{})

	var mu sync.Mutex
	var states []State

	client, err := NewClient(ClientConfig{
		BaseURL:       srv.URL,
		ProjectID:     "p1",
		EnvironmentID: "prod",
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-client.Messages():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connected frame")
	}
	client.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 {
		t.Fatal("no state transitions observed")
	}
	sawOpen := false
	for _, s := range states {
		if s == StateOpen {
			sawOpen = true
		}
	}
	if !sawOpen {
		t.Fatalf("open state never observed: %v", states)
	}
	if states[len(states)-1] != StateClosed {
		t.Fatalf("final state %q, want closed", states[len(states)-1])
	}
}
