package vaillant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeAPI is a minimal Vaillant cloud stand-in: it issues tokens and
// checks them on every system call.
type fakeAPI struct {
	t *testing.T

	tokenCounter int
	validToken   string
	requests     []string
	bodies       []map[string]any
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			f.tokenCounter++
			f.validToken = fmt.Sprintf("tok-%d", f.tokenCounter)
			fmt.Fprintf(w, `{"token": %q}`, f.validToken)
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		if r.Body != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				f.bodies = append(f.bodies, body)
			} else {
				f.bodies = append(f.bodies, nil)
			}
		}

		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"serialNumber": "sn-1", "zones": [], "rooms": []}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func newFakeClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	// Plain http.Client so failure tests skip retry backoff
	c := &Client{
		http:    srv.Client(),
		baseURL: srv.URL,
		creds:   Credentials{Serial: "sn-1", Username: "u", Password: "p"},
	}
	return c, api
}

func TestClientLoginAndReuse(t *testing.T) {
	c, api := newFakeClient(t)
	ctx := context.Background()

	if _, err := c.System(ctx); err != nil {
		t.Fatalf("System() error = %v", err)
	}
	if _, err := c.System(ctx); err != nil {
		t.Fatalf("second System() error = %v", err)
	}
	if api.tokenCounter != 1 {
		t.Errorf("logins = %d, want 1 (token reused)", api.tokenCounter)
	}
}

func TestClientReloginAfterExpiry(t *testing.T) {
	c, api := newFakeClient(t)
	ctx := context.Background()

	if _, err := c.System(ctx); err != nil {
		t.Fatalf("System() error = %v", err)
	}

	// Invalidate the token server-side; the next call must re-login
	api.validToken = "revoked"
	if _, err := c.System(ctx); err != nil {
		t.Fatalf("System() after expiry error = %v", err)
	}
	if api.tokenCounter != 2 {
		t.Errorf("logins = %d, want 2", api.tokenCounter)
	}
}

func TestClientLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{http: srv.Client(), baseURL: srv.URL, creds: Credentials{Serial: "sn-1"}}
	if _, err := c.System(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("System() error = %v, want ErrAuthFailed", err)
	}
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			w.Write([]byte(`{"token": "tok"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{http: srv.Client(), baseURL: srv.URL, creds: Credentials{Serial: "sn-1"}}
	if _, err := c.System(context.Background()); !errors.Is(err, ErrServerError) {
		t.Errorf("System() error = %v, want ErrServerError", err)
	}
}

func TestClientCommandPaths(t *testing.T) {
	c, api := newFakeClient(t)
	ctx := context.Background()

	if err := c.SetZoneSetpoint(ctx, "z1", 21.5, defaultVetoDuration); err != nil {
		t.Fatalf("SetZoneSetpoint() error = %v", err)
	}
	if err := c.RemoveZoneQuickVeto(ctx, "z1"); err != nil {
		t.Fatalf("RemoveZoneQuickVeto() error = %v", err)
	}
	if err := c.SetQuickMode(ctx, QuickModeParty); err != nil {
		t.Fatalf("SetQuickMode() error = %v", err)
	}
	if err := c.StartHotWaterBoost(ctx); err != nil {
		t.Fatalf("StartHotWaterBoost() error = %v", err)
	}

	want := []string{
		"PUT /systems/sn-1/zones/z1/quick-veto",
		"DELETE /systems/sn-1/zones/z1/quick-veto",
		"PUT /systems/sn-1/quick-mode",
		"POST /systems/sn-1/hot-water/boost",
	}
	if len(api.requests) != len(want) {
		t.Fatalf("requests = %v, want %v", api.requests, want)
	}
	for i, w := range want {
		if api.requests[i] != w {
			t.Errorf("requests[%d] = %q, want %q", i, api.requests[i], w)
		}
	}

	veto := api.bodies[0]
	if veto["targetTemperature"] != 21.5 {
		t.Errorf("veto temperature = %v, want 21.5", veto["targetTemperature"])
	}
	if veto["durationMinutes"] != float64(180) {
		t.Errorf("veto duration = %v, want 180", veto["durationMinutes"])
	}
}
