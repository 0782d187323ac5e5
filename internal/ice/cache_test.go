package ice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseServers(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{
			name:    "list with credentials",
			payload: `[{"urls":["turn:turn.example:3478"],"username":"u","credential":"c"}]`,
			want:    1,
		},
		{
			name:    "urls as a single string",
			payload: `[{"urls":"stun:stun.example:19302"}]`,
			want:    1,
		},
		{
			name:    "multiple servers",
			payload: `[{"urls":["stun:a"]},{"urls":["turn:b"],"username":"u","credential":"c"}]`,
			want:    2,
		},
		{name: "empty list", payload: `[]`, wantErr: true},
		{name: "entry without urls", payload: `[{"username":"u"}]`, wantErr: true},
		{name: "not json", payload: `nope`, wantErr: true},
		{name: "wrong shape", payload: `{"urls":["stun:a"]}`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			servers, err := parseServers([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %d servers", len(servers))
				}
				return
			}
			if err != nil {
				t.Fatalf("parseServers failed: %v", err)
			}
			if len(servers) != tc.want {
				t.Fatalf("got %d servers, want %d", len(servers), tc.want)
			}
		})
	}
}

func TestCacheServesStaticDefaultWithoutProvider(t *testing.T) {
	c := NewCache("", 0)
	snap := c.Current()
	if len(snap.Servers) == 0 {
		t.Fatal("expected the built-in STUN list")
	}
	if snap.Servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected default server: %v", snap.Servers[0].URLs)
	}

	// Run must return immediately — no provider to poll.
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a static cache")
	}
}

func TestCacheRefreshAndStaleOverEmpty(t *testing.T) {
	var fail atomic.Bool
	var payload atomic.Value
	payload.Store(`[{"urls":["turn:turn.example:3478"],"username":"u1","credential":"c1"}]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(payload.Load().(string)))
	}))
	defer srv.Close()

	c := NewCache(srv.URL, time.Hour)

	// Before the first successful fetch the snapshot is empty.
	if got := c.Current(); len(got.Servers) != 0 {
		t.Fatalf("expected an empty snapshot before any fetch, got %d servers", len(got.Servers))
	}

	if err := c.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	first := c.Current()
	if len(first.Servers) != 1 || first.Servers[0].Username != "u1" {
		t.Fatalf("unexpected snapshot after refresh: %+v", first.Servers)
	}

	// A provider failure must leave the previous snapshot intact.
	fail.Store(true)
	if err := c.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh to fail")
	}
	if got := c.Current(); len(got.Servers) != 1 || got.Servers[0].Username != "u1" {
		t.Fatalf("failed refresh regressed the snapshot: %+v", got.Servers)
	}

	// A malformed payload counts as a failure too.
	fail.Store(false)
	payload.Store(`[]`)
	if err := c.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh to reject an empty list")
	}
	if got := c.Current(); got.Servers[0].Username != "u1" {
		t.Fatalf("empty payload regressed the snapshot: %+v", got.Servers)
	}

	// Recovery replaces the snapshot atomically.
	payload.Store(`[{"urls":["turn:turn.example:3478"],"username":"u2","credential":"c2"}]`)
	if err := c.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got := c.Current(); got.Servers[0].Username != "u2" {
		t.Fatalf("snapshot not replaced: %+v", got.Servers)
	}
	if !c.Current().FetchedAt.After(first.FetchedAt.Add(-time.Millisecond)) {
		t.Error("FetchedAt not advanced")
	}
}

func TestCacheNeverSucceededStaysEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCache(srv.URL, time.Hour)
	if err := c.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh to fail")
	}
	if got := c.Current(); len(got.Servers) != 0 {
		t.Fatalf("expected an empty sequence, got %d servers", len(got.Servers))
	}
}

func TestToWebRTC(t *testing.T) {
	servers, err := parseServers([]byte(`[{"urls":["turn:t"],"username":"u","credential":"c"}]`))
	if err != nil {
		t.Fatalf("parseServers failed: %v", err)
	}
	out := ToWebRTC(servers)
	if len(out) != 1 {
		t.Fatalf("got %d servers, want 1", len(out))
	}
	if out[0].Username != "u" || out[0].Credential != "c" || out[0].URLs[0] != "turn:t" {
		t.Errorf("conversion mangled the descriptor: %+v", out[0])
	}
}
