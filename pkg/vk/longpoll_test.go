package vk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeSource hands out long-poll endpoints and counts bootstraps.
type fakeSource struct {
	server     string
	calls      int
	err        error
	keyPattern string
}

func (f *fakeSource) GetLongPollServer(_ context.Context, _ int64) (Endpoint, error) {
	f.calls++
	if f.err != nil {
		return Endpoint{}, f.err
	}
	key := "key-1"
	if f.keyPattern != "" {
		key = fmt.Sprintf(f.keyPattern, f.calls)
	}
	return Endpoint{Server: f.server, Key: key, Cursor: Cursor(fmt.Sprintf("%d", 100*f.calls))}, nil
}

func newPollServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

func TestPollSession_InitializeThenFetch(t *testing.T) {
	server := newPollServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("act"); got != "a_check" {
			t.Errorf("act = %q", got)
		}
		if got := r.URL.Query().Get("ts"); got != "100" {
			t.Errorf("ts = %q, want bootstrap cursor", got)
		}
		if got := r.URL.Query().Get("wait"); got != "25" {
			t.Errorf("wait = %q", got)
		}
		fmt.Fprint(w, `{"ts": 101, "updates": [[4, 1, 1, 55, "hi"], "garbage"]}`)
	})

	source := &fakeSource{server: server.URL}
	session := NewPollSession(source, 0, 25, 30)

	if session.State().Status != StatusUninitialized {
		t.Fatal("expected uninitialized state before first fetch")
	}

	updates, err := session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// The malformed entry is dropped, not fatal.
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].Type != 4 {
		t.Errorf("update type = %d", updates[0].Type)
	}

	state := session.State()
	if state.Status != StatusActive {
		t.Errorf("status = %s, want active", state.Status)
	}
	if state.Cursor != "101" {
		t.Errorf("cursor = %q, want advanced to 101", state.Cursor)
	}
	if source.calls != 1 {
		t.Errorf("bootstrap calls = %d, want 1", source.calls)
	}
}

func TestPollSession_FailedOne_AdoptsCursor(t *testing.T) {
	server := newPollServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"failed": 1, "ts": "555"}`)
	})

	source := &fakeSource{server: server.URL}
	session := NewPollSession(source, 0, 25, 30)

	updates, err := session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected empty batch, got %d updates", len(updates))
	}

	state := session.State()
	if state.Status != StatusActive {
		t.Errorf("status = %s, want active", state.Status)
	}
	if state.Cursor != "555" {
		t.Errorf("cursor = %q, want server-supplied 555", state.Cursor)
	}
	if source.calls != 1 {
		t.Errorf("bootstrap calls = %d, want no re-bootstrap on failed:1", source.calls)
	}
}

func TestPollSession_FailedThree_Reinitializes(t *testing.T) {
	server := newPollServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"failed": 3}`)
	})

	source := &fakeSource{server: server.URL, keyPattern: "key-%d"}
	session := NewPollSession(source, 0, 25, 30)

	updates, err := session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected empty batch for the invalidated cycle")
	}

	state := session.State()
	if state.Status != StatusActive {
		t.Errorf("status = %s, want active after re-bootstrap", state.Status)
	}
	if state.Key != "key-2" {
		t.Errorf("key = %q, want fresh key from second bootstrap", state.Key)
	}
	if source.calls != 2 {
		t.Errorf("bootstrap calls = %d, want 2 (initial + reinit)", source.calls)
	}
}

func TestPollSession_ReinitializeFailureIsFatal(t *testing.T) {
	server := newPollServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"failed": 2}`)
	})

	source := &fakeSource{server: server.URL}
	session := NewPollSession(source, 0, 25, 30)

	// First fetch bootstraps fine, then the failed:2 forces a second
	// bootstrap which we make fail.
	if _, err := session.Fetch(context.Background()); err == nil {
		source.err = fmt.Errorf("credential revoked")
		if _, err := session.Fetch(context.Background()); err == nil {
			t.Fatal("expected fatal error when reinitialize fails")
		}
	} else {
		t.Fatalf("first fetch: %v", err)
	}
}

func TestPollSession_TransportErrorYieldsEmptyBatch(t *testing.T) {
	server := newPollServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"failed": 2}`)
	})
	server.Close() // force a connection error on poll

	source := &fakeSource{server: server.URL}
	session := NewPollSession(source, 0, 25, 30)

	updates, err := session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("network failures must not surface: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected empty batch")
	}
	if session.State().Status != StatusActive {
		t.Errorf("session must stay active across transient failures")
	}
}

func TestPollSession_FatalBootstrapPropagates(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("invalid token")}
	session := NewPollSession(source, 0, 25, 30)

	if _, err := session.Fetch(context.Background()); err == nil {
		t.Fatal("expected bootstrap error to propagate")
	}
}
