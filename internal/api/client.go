// Package api is the HTTP/JSON client for the call coordination server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultServerURL = "https://ivr.wxon.in"
	DefaultAPIPath   = "/api"
)

// ErrNoCommand is returned by PollCommand when the server has nothing queued.
var ErrNoCommand = errors.New("no pending command")

// ErrRegistrationRejected is returned when the server answers 2xx with success=false.
var ErrRegistrationRejected = errors.New("device registration rejected")

// Client talks to the server on behalf of one device identity.
type Client struct {
	serverURL  string
	apiPath    string
	deviceID   string
	token      string
	httpClient *http.Client
	// downloadClient has no overall deadline; asset bodies may stream for
	// longer than an API round trip and are bounded by the caller's context.
	downloadClient *http.Client
}

// Config configures the client.
type Config struct {
	ServerURL  string
	APIPath    string
	DeviceID   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a new client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, fmt.Errorf("device id is required")
	}
	apiPath := strings.TrimRight(cfg.APIPath, "/")
	if cfg.APIPath == "" {
		apiPath = DefaultAPIPath
	}
	if apiPath != "" && !strings.HasPrefix(apiPath, "/") {
		apiPath = "/" + apiPath
	}
	httpClient := cfg.HTTPClient
	var downloadClient *http.Client
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		downloadClient = &http.Client{Transport: transport}
	} else {
		dl := *httpClient
		dl.Timeout = 0
		downloadClient = &dl
	}
	return &Client{
		serverURL:      serverURL,
		apiPath:        apiPath,
		deviceID:       strings.TrimSpace(cfg.DeviceID),
		token:          strings.TrimSpace(cfg.Token),
		httpClient:     httpClient,
		downloadClient: downloadClient,
	}, nil
}

// DeviceID returns the identity the client reports as.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// StatusError is returned for any response outside the expected status range.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, body)
}

// Temporary reports whether retrying the same request could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// IsTemporary reports whether err is worth retrying: transport failures and
// server-side statuses are, client errors are not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Timestamp formats t the way the server expects: UTC, milliseconds, Z suffix.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Register announces the device to the server.
func (c *Client) Register(ctx context.Context, reg DeviceRegistration) (*RegistrationResult, error) {
	if reg.DeviceID == "" {
		reg.DeviceID = c.deviceID
	}
	var result RegistrationResult
	body, err := c.doJSON(ctx, http.MethodPost, "/devices/register", reg)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse registration response: %w", err)
		}
	}
	if result.Success != nil && !*result.Success {
		msg := strings.TrimSpace(result.Message)
		if msg == "" {
			return &result, ErrRegistrationRejected
		}
		return &result, fmt.Errorf("%w: %s", ErrRegistrationRejected, msg)
	}
	return &result, nil
}

// UpdateDeviceStatus sets the device online or offline.
func (c *Client) UpdateDeviceStatus(ctx context.Context, status DeviceStatus) error {
	path := "/devices/" + url.PathEscape(c.deviceID) + "/status"
	_, err := c.doJSON(ctx, http.MethodPut, path, deviceStatusRequest{Status: status})
	return err
}

// PollCommand asks the server for the next command addressed to this device.
func (c *Client) PollCommand(ctx context.Context) (*Command, error) {
	path := "/devices/" + url.PathEscape(c.deviceID) + "/commands"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return DecodeCommand(body)
}

// DecodeCommand turns a poll body into a command. Empty bodies and {} mean
// there is nothing to do.
func DecodeCommand(body []byte) (*Command, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "{}" {
		return nil, ErrNoCommand
	}
	var raw struct {
		Action      string          `json:"action"`
		PhoneNumber string          `json:"phoneNumber"`
		CallID      json.RawMessage `json:"callId"`
		AudioFileID json.RawMessage `json:"audioFileId"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	cmd := &Command{
		Action:      Action(strings.TrimSpace(raw.Action)),
		PhoneNumber: strings.TrimSpace(raw.PhoneNumber),
		CallID:      rawScalar(raw.CallID),
	}
	if id := rawScalar(raw.AudioFileID); id != "" {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid audioFileId %q: %w", id, err)
		}
		if n > 0 {
			cmd.AudioFileID = n
		}
	}
	return cmd, nil
}

// rawScalar accepts ids sent either as JSON strings or numbers.
func rawScalar(raw json.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return value
}

// ReportCallStatus publishes a call lifecycle transition.
func (c *Client) ReportCallStatus(ctx context.Context, callID string, report StatusReport) error {
	if strings.TrimSpace(callID) == "" {
		return fmt.Errorf("call id is required")
	}
	if report.DeviceID == "" {
		report.DeviceID = c.deviceID
	}
	path := "/call-logs/" + url.PathEscape(callID) + "/status"
	_, err := c.doJSON(ctx, http.MethodPut, path, report)
	return err
}

// ReportDTMF publishes an operator-observed keypad response.
func (c *Client) ReportDTMF(ctx context.Context, callID string, report DTMFReport) error {
	if strings.TrimSpace(callID) == "" {
		return fmt.Errorf("call id is required")
	}
	if report.DeviceID == "" {
		report.DeviceID = c.deviceID
	}
	path := "/call-logs/" + url.PathEscape(callID) + "/dtmf"
	_, err := c.doJSON(ctx, http.MethodPut, path, report)
	return err
}

// DownloadAsset opens the audio asset body. The caller must close it.
func (c *Client) DownloadAsset(ctx context.Context, assetID int) (*Download, error) {
	path := "/audio/" + strconv.Itoa(assetID) + "/download"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return &Download{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// Health checks that the server is reachable. It is served outside the API prefix.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: http.MethodGet, Path: "/health", Code: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.apiPath+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends payload as JSON and returns the body of a 2xx response.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
