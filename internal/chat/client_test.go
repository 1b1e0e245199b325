package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetStatus(t *testing.T) {
	var gotProfile map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users.profile.set" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("Authorization = %q, want user token", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal([]byte(r.PostForm.Get("profile")), &gotProfile); err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if err := c.SetStatus(context.Background(), "T1", "In a meeting", ":calendar:"); err != nil {
		t.Fatal(err)
	}
	if gotProfile["status_text"] != "In a meeting" || gotProfile["status_emoji"] != ":calendar:" {
		t.Errorf("profile = %v", gotProfile)
	}
}

func TestClearStatusSendsEmptyProfile(t *testing.T) {
	var gotProfile map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_ = json.Unmarshal([]byte(r.PostForm.Get("profile")), &gotProfile)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if err := c.ClearStatus(context.Background(), "T1"); err != nil {
		t.Fatal(err)
	}
	if gotProfile["status_text"] != "" || gotProfile["status_emoji"] != "" {
		t.Errorf("profile = %v, want empty status", gotProfile)
	}
}

func TestAuthErrorClassification(t *testing.T) {
	for _, code := range []string{"invalid_auth", "token_revoked", "account_inactive", "not_authed"} {
		t.Run(code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": code})
			}))
			defer srv.Close()

			c := NewClient(srv.URL, nil)
			err := c.SetStatus(context.Background(), "bad", "x", "")
			if !IsAuthError(err) {
				t.Errorf("error %v not classified as auth error", err)
			}
		})
	}
}

func TestNonAuthAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "ratelimited"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.SetStatus(context.Background(), "T1", "x", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsAuthError(err) {
		t.Errorf("ratelimited wrongly classified as auth error: %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.SetStatus(context.Background(), "T1", "x", "")
	if !IsTransient(err) {
		t.Errorf("503 not classified transient: %v", err)
	}
}

func TestListDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users.list" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer admin-token" {
			t.Errorf("Authorization = %q, want admin token", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"members": []Member{
				{ChatUserID: "U1", Email: "alice@x", DisplayName: "Alice"},
				{ChatUserID: "U2", Email: "bob@x", DisplayName: "Bob"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	members, err := c.ListDirectory(context.Background(), "admin-token")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].ChatUserID != "U1" {
		t.Errorf("members = %+v", members)
	}
}
