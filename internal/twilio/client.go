// Package twilio is a minimal Twilio REST client covering the slices of the
// API dialcheck uses: sending SMS messages and validating webhook signatures.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Twilio REST API base URL.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Config configures the Twilio client.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164 number SMS is sent from
	BaseURL    string // defaults to DefaultBaseURL
	HTTPClient *http.Client
}

// Client is a Twilio REST API client.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// New creates a Twilio client.
func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("twilio account sid is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Message represents a Twilio message resource.
type Message struct {
	SID          string `json:"sid"`
	To           string `json:"to"`
	From         string `json:"from"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// SendSMS sends a text message from the configured number.
func (c *Client) SendSMS(ctx context.Context, to, body string) (*Message, error) {
	if c.from == "" {
		return nil, fmt.Errorf("no from number configured")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.from)
	data.Set("Body", body)

	var msg Message
	if err := c.post(ctx, endpoint, data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// apiError is the Twilio REST error body.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// post issues an authenticated form POST and decodes the JSON response.
func (c *Client) post(ctx context.Context, endpoint string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading twilio response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio api error %d: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("twilio api status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding twilio response: %w", err)
		}
	}
	return nil
}
