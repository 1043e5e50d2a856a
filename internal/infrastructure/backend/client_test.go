package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"companion/internal/ports"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, mux
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:        base,
		APIKey:         "anon-key",
		ServiceRoleKey: "service-key",
		ProjectRef:     "abcdefghij",
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func serveSignIn(t *testing.T, mux *http.ServeMux) {
	t.Helper()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("sign-in method = %s", r.Method)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("sign-in apikey header = %q", got)
		}
		if got := r.URL.Query().Get("grant_type"); got != "access_code" {
			t.Errorf("sign-in grant_type = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["access_code"] != "123456" {
			t.Errorf("sign-in body = %v, err = %v", body, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "jwt-access",
			"refresh_token": "jwt-refresh",
			"expires_in":    3600,
			"user": map[string]any{
				"id": "att-1",
				"user_metadata": map[string]any{
					"display_name": "Ada Lovelace",
					"role":         "attendee",
				},
			},
		})
	})
}

func TestSignIn(t *testing.T) {
	server, mux := newTestServer(t)
	serveSignIn(t, mux)
	client := newTestClient(t, server.URL)

	sess, err := client.SignIn(context.Background(), "123456")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.AttendeeID != "att-1" || sess.DisplayName != "Ada Lovelace" || sess.Role != "attendee" {
		t.Fatalf("SignIn() session = %+v", sess)
	}
	if sess.AccessToken != "jwt-access" || sess.RefreshToken != "jwt-refresh" {
		t.Fatalf("SignIn() tokens = %+v", sess)
	}
	if sess.ProjectRef != "abcdefghij" {
		t.Fatalf("SignIn() project ref = %q", sess.ProjectRef)
	}
	if time.Until(sess.ExpiresAt) < 30*time.Minute {
		t.Fatalf("SignIn() expiry = %v", sess.ExpiresAt)
	}
}

func TestSignInEmptyCode(t *testing.T) {
	server, _ := newTestServer(t)
	client := newTestClient(t, server.URL)

	if _, err := client.SignIn(context.Background(), "  "); err == nil {
		t.Fatalf("SignIn() expected error for empty access code")
	}
}

func TestSignInRejected(t *testing.T) {
	server, mux := newTestServer(t)
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid access code"}`, http.StatusBadRequest)
	})
	client := newTestClient(t, server.URL)

	_, err := client.SignIn(context.Background(), "000000")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("SignIn() error = %v, want status in message", err)
	}
}

func TestFetchCollectionUsesSessionBearer(t *testing.T) {
	server, mux := newTestServer(t)
	serveSignIn(t, mux)
	mux.HandleFunc("/rest/v1/attendees", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-access" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		if got := r.URL.Query().Get("select"); got != "*" {
			t.Errorf("select = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "name": "Ada"}})
	})
	client := newTestClient(t, server.URL)

	if _, err := client.SignIn(context.Background(), "123456"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	rows, err := client.FetchCollection(context.Background(), "attendees", false)
	if err != nil {
		t.Fatalf("FetchCollection() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Ada" {
		t.Fatalf("FetchCollection() = %+v", rows)
	}
}

func TestFetchCollectionSignedOutUsesAnonKey(t *testing.T) {
	server, mux := newTestServer(t)
	mux.HandleFunc("/rest/v1/sponsors", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer anon-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})
	client := newTestClient(t, server.URL)

	rows, err := client.FetchCollection(context.Background(), "sponsors", false)
	if err != nil {
		t.Fatalf("FetchCollection() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("FetchCollection() = %+v", rows)
	}
}

func TestFetchCollectionElevated(t *testing.T) {
	server, mux := newTestServer(t)
	mux.HandleFunc("/rest/v1/attendees", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Errorf("apikey = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "access_code": "123456"}})
	})
	client := newTestClient(t, server.URL)

	rows, err := client.FetchCollection(context.Background(), "attendees", true)
	if err != nil {
		t.Fatalf("FetchCollection() error = %v", err)
	}
	if rows[0]["access_code"] != "123456" {
		t.Fatalf("FetchCollection() = %+v", rows)
	}
}

func TestFetchCollectionElevatedWithoutServiceKey(t *testing.T) {
	server, _ := newTestServer(t)
	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "anon-key", ProjectRef: "abcdefghij"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.FetchCollection(context.Background(), "attendees", true); err == nil {
		t.Fatalf("FetchCollection() expected error without service-role key")
	}
}

func TestSignOutRevokesAndDropsToken(t *testing.T) {
	server, mux := newTestServer(t)
	serveSignIn(t, mux)
	revoked := false
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-access" {
			t.Errorf("Authorization = %q", got)
		}
		revoked = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/rest/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer anon-key" {
			t.Errorf("post-signout Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})
	client := newTestClient(t, server.URL)

	if _, err := client.SignIn(context.Background(), "123456"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if !revoked {
		t.Fatalf("SignOut() never hit the logout endpoint")
	}
	if _, err := client.FetchCollection(context.Background(), "sessions", false); err != nil {
		t.Fatalf("FetchCollection() after sign-out error = %v", err)
	}
}

func TestSignOutWithoutSessionIsNoop(t *testing.T) {
	server, _ := newTestServer(t)
	client := newTestClient(t, server.URL)

	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
}

func TestResumeArmsBearer(t *testing.T) {
	server, mux := newTestServer(t)
	mux.HandleFunc("/rest/v1/seating", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer restored-access" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})
	client := newTestClient(t, server.URL)

	client.Resume(ports.ProviderSession{
		AccessToken:  "restored-access",
		RefreshToken: "restored-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	if _, err := client.FetchCollection(context.Background(), "seating", false); err != nil {
		t.Fatalf("FetchCollection() error = %v", err)
	}
}

func TestProjectRefDerivedFromHost(t *testing.T) {
	ref, err := refFromBaseURL("https://xyzzy12345.supabase.co")
	if err != nil {
		t.Fatalf("refFromBaseURL() error = %v", err)
	}
	if ref != "xyzzy12345" {
		t.Fatalf("refFromBaseURL() = %q", ref)
	}
}
