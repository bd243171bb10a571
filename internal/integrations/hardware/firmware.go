package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/coordinator"
)

// maxManifestSize bounds the manifest document.
const maxManifestSize = 1 << 20

// Manifest is the published firmware descriptor.
type Manifest struct {
	Version      string `json:"version"`
	URL          string `json:"url"`
	SHA256       string `json:"sha256"`
	ReleaseNotes string `json:"release_notes,omitempty"`
}

// ManifestClient fetches firmware manifests over HTTP with retries.
type ManifestClient struct {
	http *http.Client
	url  string
}

// NewManifestClient creates a client for one manifest URL.
func NewManifestClient(url string) *ManifestClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &ManifestClient{http: rc.StandardClient(), url: url}
}

// Fetch retrieves and decodes the manifest.
func (c *ManifestClient) Fetch(ctx context.Context) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("building manifest request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("fetching manifest: unexpected status %d", resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestSize)).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version == "" || m.URL == "" || m.SHA256 == "" {
		return Manifest{}, fmt.Errorf("manifest at %s is missing version, url, or sha256", c.url)
	}
	return m, nil
}

// NewFirmwareCoordinator builds a polling coordinator over a manifest
// URL. Listeners receive the manifest after every successful poll.
func NewFirmwareCoordinator(name, manifestURL string, interval time.Duration, clk clock.Clock) *coordinator.Coordinator[Manifest] {
	client := NewManifestClient(manifestURL)
	return coordinator.New(name, interval, client.Fetch, clk)
}
