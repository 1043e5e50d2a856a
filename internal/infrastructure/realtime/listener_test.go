package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestListenerDeliversChangeEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/changes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()

		messages := []string{
			`{"type":"heartbeat"}`,
			`not json at all`,
			`{"type":"change","collection":"attendees"}`,
			`{"type":"change","collection":"sessions"}`,
		}
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	changed := make(chan string, 8)
	listener, err := NewListener(server.URL, "anon-key", func(collection string) {
		changed <- collection
	})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- listener.Run(ctx) }()

	want := []string{"attendees", "sessions"}
	for _, collection := range want {
		select {
		case got := <-changed:
			if got != collection {
				t.Fatalf("change = %q, want %q", got, collection)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", collection)
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}
}

func TestNewListenerValidation(t *testing.T) {
	if _, err := NewListener("", "key", func(string) {}); err == nil {
		t.Fatalf("NewListener() expected error for empty base url")
	}
	if _, err := NewListener("https://ref.example.com", "key", nil); err == nil {
		t.Fatalf("NewListener() expected error for nil callback")
	}
	if _, err := NewListener("ftp://ref.example.com", "key", func(string) {}); err == nil {
		t.Fatalf("NewListener() expected error for non-http scheme")
	}

	listener, err := NewListener("https://abcdefghij.supabase.co/", "anon", func(string) {})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	if !strings.HasPrefix(listener.endpoint, "wss://abcdefghij.supabase.co/realtime/v1/changes?") {
		t.Fatalf("endpoint = %q", listener.endpoint)
	}
}
