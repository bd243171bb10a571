package olarm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(srv *httptest.Server) *Client {
	// Plain http.Client so failure tests do not sit through retry backoff
	return &Client{http: srv.Client(), baseURL: srv.URL, apiKey: "test-key"}
}

func TestClientDevices(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/devices" {
			t.Errorf("path = %q, want /devices", r.URL.Path)
		}
		w.Write([]byte(`{"data": [{
			"deviceId": "dev-1",
			"deviceName": "Home Panel",
			"deviceState": {"areas": ["disarm"], "zones": ["c", "a"]},
			"deviceProfile": {
				"areasLimit": 1, "areasLabels": ["House"],
				"zonesLimit": 2, "zonesLabels": ["Front Door", "Kitchen PIR"]
			}
		}]}`))
	}))
	defer srv.Close()

	devices, err := testClient(srv).Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}

	dev := devices[0]
	if dev.ID != "dev-1" || dev.Name != "Home Panel" {
		t.Errorf("device = %+v", dev)
	}
	if len(dev.State.Areas) != 1 || dev.State.Areas[0] != "disarm" {
		t.Errorf("areas = %v", dev.State.Areas)
	}
	if len(dev.Profile.ZonesLabels) != 2 || dev.Profile.ZonesLabels[1] != "Kitchen PIR" {
		t.Errorf("zone labels = %v", dev.Profile.ZonesLabels)
	}
}

func TestClientSendAction(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := testClient(srv).SendAction(context.Background(), "dev-1", ActionSleep, 2)
	if err != nil {
		t.Fatalf("SendAction() error = %v", err)
	}
	if gotPath != "/devices/dev-1/actions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["actionCmd"] != ActionSleep {
		t.Errorf("actionCmd = %v, want area-sleep", gotBody["actionCmd"])
	}
	if gotBody["actionNum"] != float64(2) {
		t.Errorf("actionNum = %v, want 2", gotBody["actionNum"])
	}
}

func TestClientErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAPIKeyInvalid},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"bad gateway", http.StatusBadGateway, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testClient(srv).Devices(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Devices() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAreaEntityState(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"arm", "armed_away"},
		{"stay", "armed_home"},
		{"sleep", "armed_night"},
		{"alarm", "triggered"},
		{"fire", "triggered"},
		{"disarm", "disarmed"},
		{"notready", "disarmed"},
		{"countdown", "disarmed"},
		{"gibberish", "unknown"},
	}
	for _, tt := range tests {
		if got := areaEntityState(tt.raw); got != tt.want {
			t.Errorf("areaEntityState(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
