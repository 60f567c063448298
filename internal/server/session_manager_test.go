package server

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionTracker_ResolveSessionID(t *testing.T) {
	tracker := NewSessionTrackerWithTimeout(time.Hour)
	defer tracker.Stop()

	t.Run("requires authorization header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/mcp", nil)
		_, err := tracker.ResolveSessionID(req)
		if err != ErrNoAuthorizationHeader {
			t.Errorf("err = %v, want ErrNoAuthorizationHeader", err)
		}
	})

	t.Run("same token resolves to same session", func(t *testing.T) {
		req1 := httptest.NewRequest("POST", "/mcp", nil)
		req1.Header.Set("Authorization", "Bearer token-a")
		req2 := httptest.NewRequest("POST", "/mcp", nil)
		req2.Header.Set("Authorization", "Bearer token-a")

		id1, err := tracker.ResolveSessionID(req1)
		if err != nil {
			t.Fatalf("ResolveSessionID() error = %v", err)
		}
		id2, _ := tracker.ResolveSessionID(req2)
		if id1 != id2 {
			t.Errorf("session IDs differ for the same token: %s vs %s", id1, id2)
		}
	})

	t.Run("different tokens resolve to different sessions", func(t *testing.T) {
		req1 := httptest.NewRequest("POST", "/mcp", nil)
		req1.Header.Set("Authorization", "Bearer token-a")
		req2 := httptest.NewRequest("POST", "/mcp", nil)
		req2.Header.Set("Authorization", "Bearer token-b")

		id1, _ := tracker.ResolveSessionID(req1)
		id2, _ := tracker.ResolveSessionID(req2)
		if id1 == id2 {
			t.Error("expected distinct session IDs for distinct tokens")
		}
	})
}

func TestSessionTracker_Touch(t *testing.T) {
	tracker := NewSessionTrackerWithTimeout(time.Hour)
	defer tracker.Stop()

	if isNew := tracker.Touch("session-1", "user-a"); !isNew {
		t.Error("first Touch should report a new session")
	}
	if isNew := tracker.Touch("session-1", "user-a"); isNew {
		t.Error("second Touch should not report a new session")
	}

	if got := tracker.UserForSession("session-1"); got != "user-a" {
		t.Errorf("UserForSession() = %q, want %q", got, "user-a")
	}
	if got := tracker.UserForSession("unknown"); got != "" {
		t.Errorf("UserForSession(unknown) = %q, want empty", got)
	}
	if got := tracker.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", got)
	}
}

func TestSessionTracker_RemoveSession(t *testing.T) {
	tracker := NewSessionTrackerWithTimeout(time.Hour)
	defer tracker.Stop()

	tracker.Touch("session-1", "user-a")
	tracker.RemoveSession("session-1")

	if got := tracker.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", got)
	}
	// Removing an unknown session is a no-op
	tracker.RemoveSession("session-1")
}

func TestSessionTracker_OnCountChange(t *testing.T) {
	tracker := NewSessionTrackerWithTimeout(time.Hour)
	defer tracker.Stop()

	var total int
	tracker.OnCountChange(func(delta int) { total += delta })

	tracker.Touch("session-1", "user-a")
	tracker.Touch("session-2", "user-b")
	tracker.Touch("session-1", "user-a") // existing, no delta
	tracker.RemoveSession("session-2")

	if total != 1 {
		t.Errorf("count delta sum = %d, want 1", total)
	}
}
