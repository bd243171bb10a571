package olarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the production Olarm API endpoint.
const DefaultBaseURL = "https://apiv4.olarm.co/api/v4"

// maxResponseSize bounds API response bodies.
const maxResponseSize = 4 << 20

// Area action commands accepted by the API.
const (
	ActionArm    = "area-arm"
	ActionStay   = "area-stay"
	ActionSleep  = "area-sleep"
	ActionDisarm = "area-disarm"
)

// Raw area states reported by the panel.
const (
	areaStateArm       = "arm"
	areaStateStay      = "stay"
	areaStateSleep     = "sleep"
	areaStateDisarm    = "disarm"
	areaStateNotReady  = "notready"
	areaStateCountdown = "countdown"
	areaStateAlarm     = "alarm"
	areaStateEmergency = "emergency"
	areaStateFire      = "fire"
)

// Zone state codes: a = active, c = closed, b = bypassed.
const (
	zoneStateActive   = "a"
	zoneStateClosed   = "c"
	zoneStateBypassed = "b"
)

// Device is one Olarm-connected panel.
type Device struct {
	ID      string        `json:"deviceId"`
	Name    string        `json:"deviceName"`
	State   DeviceState   `json:"deviceState"`
	Profile DeviceProfile `json:"deviceProfile"`
}

// DeviceState carries the live area and zone states.
type DeviceState struct {
	Areas []string `json:"areas"`
	Zones []string `json:"zones"`
}

// DeviceProfile describes the panel's configured areas and zones.
type DeviceProfile struct {
	AreasLimit  int      `json:"areasLimit"`
	AreasLabels []string `json:"areasLabels"`
	ZonesLimit  int      `json:"zonesLimit"`
	ZonesLabels []string `json:"zonesLabels"`
	ZonesTypes  []int    `json:"zonesTypes"`
}

type devicesResponse struct {
	Data []Device `json:"data"`
}

// Client is an Olarm cloud API client. 5xx responses are retried with
// backoff before being surfaced as ErrServerError.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a client for the given API key. baseURL defaults to
// DefaultBaseURL when empty.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 15 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	// Keep the final response so status codes map onto the error taxonomy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    rc.StandardClient(),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Devices lists all panels on the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var resp devicesResponse
	if err := c.get(ctx, "/devices", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Device fetches one panel by id.
func (c *Client) Device(ctx context.Context, deviceID string) (Device, error) {
	var dev Device
	if err := c.get(ctx, "/devices/"+deviceID, &dev); err != nil {
		return Device{}, err
	}
	return dev, nil
}

// SendAction posts an area action to a panel.
//
// Parameters:
//   - actionCmd: one of ActionArm, ActionStay, ActionSleep, ActionDisarm
//   - areaNum: 1-based area number
func (c *Client) SendAction(ctx context.Context, deviceID, actionCmd string, areaNum int) error {
	body, err := json.Marshal(map[string]any{
		"actionCmd": actionCmd,
		"actionNum": areaNum,
	})
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/devices/"+deviceID+"/actions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("olarm: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAPIKeyInvalid
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("olarm: %s %s: unexpected status %d",
			req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("olarm: decoding response: %w", err)
	}
	return nil
}
