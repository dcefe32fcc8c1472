// Package webhook posts Ayame authentication and disconnect notifications to
// operator supplied HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

const DefaultTimeout = 5 * time.Second

// maxResponseBytes bounds how much of a webhook response body is read.
const maxResponseBytes = 1 << 20

var (
	ErrNotConfigured       = errors.New("webhook url not configured")
	ErrUnexpectedStatus    = errors.New("unexpected webhook status code")
	ErrInvalidResponseBody = errors.New("invalid webhook response body")
)

// AuthnRequest is the body POSTed to the authn webhook for every register.
type AuthnRequest struct {
	RoomID        string          `json:"roomId"`
	ClientID      string          `json:"clientId"`
	SignalingKey  string          `json:"signalingKey,omitempty"`
	AuthnMetadata json.RawMessage `json:"authnMetadata,omitempty"`
	AyameClient   string          `json:"ayameClient,omitempty"`
	Libwebrtc     string          `json:"libwebrtc,omitempty"`
	Environment   string          `json:"environment,omitempty"`
}

// AuthnResponse is the decoded body of a 200 authn webhook response. A missing
// allowed field denies the registration.
type AuthnResponse struct {
	Allowed       bool               `json:"allowed"`
	Reason        string             `json:"reason,omitempty"`
	ICEServers    []webrtc.ICEServer `json:"iceServers,omitempty"`
	AuthzMetadata json.RawMessage    `json:"authzMetadata,omitempty"`
}

type DisconnectRequest struct {
	RoomID       string `json:"roomId"`
	ClientID     string `json:"clientId"`
	ConnectionID string `json:"connectionId"`
}

type Config struct {
	AuthnURL      string
	DisconnectURL string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient defaults to a client without its own timeout; Timeout is
	// applied per request through the context.
	HTTPClient *http.Client
}

type Client struct {
	authnURL      string
	disconnectURL string
	timeout       time.Duration
	http          *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		authnURL:      cfg.AuthnURL,
		disconnectURL: cfg.DisconnectURL,
		timeout:       cfg.Timeout,
		http:          cfg.HTTPClient,
	}
}

func (c *Client) AuthnEnabled() bool {
	return c != nil && c.authnURL != ""
}

func (c *Client) DisconnectEnabled() bool {
	return c != nil && c.disconnectURL != ""
}

// Authenticate asks the authn webhook whether a register may proceed. Any
// error (transport failure, timeout, non-200 status, undecodable body) must be
// treated by the caller as a denial.
func (c *Client) Authenticate(ctx context.Context, req AuthnRequest) (AuthnResponse, error) {
	if !c.AuthnEnabled() {
		return AuthnResponse{}, ErrNotConfigured
	}
	body, err := c.post(ctx, c.authnURL, req)
	if err != nil {
		return AuthnResponse{}, fmt.Errorf("authn webhook: %w", err)
	}
	var resp AuthnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return AuthnResponse{}, fmt.Errorf("authn webhook: %w: %v", ErrInvalidResponseBody, err)
	}
	return resp, nil
}

// NotifyDisconnect reports a departed connection. The response body is
// ignored.
func (c *Client) NotifyDisconnect(ctx context.Context, req DisconnectRequest) error {
	if !c.DisconnectEnabled() {
		return ErrNotConfigured
	}
	if _, err := c.post(ctx, c.disconnectURL, req); err != nil {
		return fmt.Errorf("disconnect webhook: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}
