package vaillant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseSize bounds API response bodies.
const maxResponseSize = 4 << 20

// Credentials identifies one installation.
type Credentials struct {
	Serial   string
	Username string
	Password string
}

// Client is a Vaillant cloud API client. It logs in lazily, caches the
// bearer token, and re-authenticates once on a 401 before giving up.
type Client struct {
	http    *http.Client
	baseURL string
	creds   Credentials

	mu    sync.Mutex
	token string
}

// NewClient creates a client for one installation.
func NewClient(baseURL string, creds Credentials) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 15 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    rc.StandardClient(),
		baseURL: baseURL,
		creds:   creds,
	}
}

// System fetches the full installation snapshot.
func (c *Client) System(ctx context.Context) (System, error) {
	var sys System
	err := c.request(ctx, http.MethodGet, c.systemPath(""), nil, &sys)
	return sys, err
}

// SetZoneSetpoint starts a quick veto on a zone.
func (c *Client) SetZoneSetpoint(ctx context.Context, zoneID string, temperature float64, duration time.Duration) error {
	return c.request(ctx, http.MethodPut, c.systemPath("/zones/"+zoneID+"/quick-veto"), map[string]any{
		"targetTemperature": temperature,
		"durationMinutes":   int(duration.Minutes()),
	}, nil)
}

// RemoveZoneQuickVeto cancels a zone's quick veto.
func (c *Client) RemoveZoneQuickVeto(ctx context.Context, zoneID string) error {
	return c.request(ctx, http.MethodDelete, c.systemPath("/zones/"+zoneID+"/quick-veto"), nil, nil)
}

// SetZoneOperatingMode sets a zone's programmed mode (off/manual/auto).
func (c *Client) SetZoneOperatingMode(ctx context.Context, zoneID, mode string) error {
	return c.request(ctx, http.MethodPut, c.systemPath("/zones/"+zoneID+"/mode"), map[string]any{
		"operatingMode": mode,
	}, nil)
}

// SetRoomSetpoint starts a quick veto on a room.
func (c *Client) SetRoomSetpoint(ctx context.Context, roomID int, temperature float64, duration time.Duration) error {
	return c.request(ctx, http.MethodPut, c.systemPath(fmt.Sprintf("/rooms/%d/quick-veto", roomID)), map[string]any{
		"targetTemperature": temperature,
		"durationMinutes":   int(duration.Minutes()),
	}, nil)
}

// RemoveRoomQuickVeto cancels a room's quick veto.
func (c *Client) RemoveRoomQuickVeto(ctx context.Context, roomID int) error {
	return c.request(ctx, http.MethodDelete, c.systemPath(fmt.Sprintf("/rooms/%d/quick-veto", roomID)), nil, nil)
}

// SetRoomOperatingMode sets a room's programmed mode (off/manual/auto).
func (c *Client) SetRoomOperatingMode(ctx context.Context, roomID int, mode string) error {
	return c.request(ctx, http.MethodPut, c.systemPath(fmt.Sprintf("/rooms/%d/mode", roomID)), map[string]any{
		"operationMode": mode,
	}, nil)
}

// SetHotWaterSetpoint sets the hot water target temperature.
func (c *Client) SetHotWaterSetpoint(ctx context.Context, temperature float64) error {
	return c.request(ctx, http.MethodPut, c.systemPath("/hot-water/setpoint"), map[string]any{
		"targetTemperature": temperature,
	}, nil)
}

// StartHotWaterBoost heats the hot water tank once outside the schedule.
func (c *Client) StartHotWaterBoost(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, c.systemPath("/hot-water/boost"), nil, nil)
}

// StopHotWaterBoost cancels a running hot water boost.
func (c *Client) StopHotWaterBoost(ctx context.Context) error {
	return c.request(ctx, http.MethodDelete, c.systemPath("/hot-water/boost"), nil, nil)
}

// SetQuickMode activates a system-wide quick mode, replacing any
// active one.
func (c *Client) SetQuickMode(ctx context.Context, mode string) error {
	return c.request(ctx, http.MethodPut, c.systemPath("/quick-mode"), map[string]any{
		"quickMode": mode,
	}, nil)
}

// RemoveQuickMode deactivates the active quick mode.
func (c *Client) RemoveQuickMode(ctx context.Context) error {
	return c.request(ctx, http.MethodDelete, c.systemPath("/quick-mode"), nil, nil)
}

// SetHolidayMode schedules a holiday window.
func (c *Client) SetHolidayMode(ctx context.Context, holiday HolidayMode) error {
	return c.request(ctx, http.MethodPut, c.systemPath("/holiday-mode"), holiday, nil)
}

// RemoveHolidayMode cancels the holiday window.
func (c *Client) RemoveHolidayMode(ctx context.Context) error {
	return c.request(ctx, http.MethodDelete, c.systemPath("/holiday-mode"), nil, nil)
}

func (c *Client) systemPath(suffix string) string {
	return "/systems/" + c.creds.Serial + suffix
}

// login exchanges the credentials for a bearer token.
func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"serialNumber": c.creds.Serial,
		"username":     c.creds.Username,
		"password":     c.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("encoding login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vaillant: login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: login status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("vaillant: login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return fmt.Errorf("vaillant: decoding login response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("vaillant: login response carries no token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

// request performs one authenticated call, logging in first when no
// token is cached and retrying once after a 401.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	status, err := c.attempt(ctx, method, path, body, out)
	if err == nil && status == http.StatusUnauthorized {
		// Token expired; refresh and retry once
		if err := c.login(ctx); err != nil {
			return err
		}
		status, err = c.attempt(ctx, method, path, body, out)
	}
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailed
	case status >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrServerError, method, path, status)
	case status != http.StatusOK && status != http.StatusNoContent:
		return fmt.Errorf("vaillant: %s %s: unexpected status %d", method, path, status)
	}
	return nil
}

// attempt performs a single HTTP exchange and decodes a 200 body into out.
func (c *Client) attempt(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vaillant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("vaillant: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
