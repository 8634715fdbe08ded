// Package webhook posts signed change notifications to an external endpoint.
// Receivers verify the X-Webhook-Signature header with VerifySignature.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-ID"
	HeaderEventType = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts the bare hex digest or the "sha256=" form sent in
// the signature header.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// ValidateURL checks that the URL is absolute and uses http or https.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// Client delivers payloads to a single endpoint.
type Client struct {
	http   *resty.Client
	url    string
	secret string
	now    func() time.Time
}

func NewClient(endpoint, secret string) (*Client, error) {
	if err := ValidateURL(endpoint); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: client, url: endpoint, secret: secret, now: time.Now}, nil
}

// Post sends one payload. Any non-2xx response is an error so the caller can
// retry; retries are owned by the caller, not the client.
func (c *Client) Post(ctx context.Context, eventID, eventType string, payload []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderSignature, "sha256="+SignPayload(payload, c.secret)).
		SetHeader(HeaderEventID, eventID).
		SetHeader(HeaderEventType, eventType).
		SetHeader(HeaderTimestamp, c.now().UTC().Format(time.RFC3339)).
		SetBody(payload).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", eventID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: non-2xx response: %d", eventID, resp.StatusCode())
	}
	return nil
}
