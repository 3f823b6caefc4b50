package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrNotConfigured is returned when no endpoint was provided.
	ErrNotConfigured = errors.New("grading endpoint not configured")
	// ErrRejected is returned when the API answers 2xx but reports success false.
	ErrRejected = errors.New("grading api declined submission")
)

// Request is the payload the grading API expects. SubmissionURL carries the submission id.
type Request struct {
	AudioURLs     []string `json:"audio_urls"`
	SubmissionURL string   `json:"submission_url"`
}

// Response is the grading API's acknowledgement.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Config points the client at the grading API.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client posts finished submissions to the external grading API.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient builds a client whose transport is traced with OpenTelemetry.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "grading_client").Logger(),
	}
}

// Submit sends the request and returns the decoded acknowledgement. Non-2xx responses and
// bodies reporting success false are errors.
func (c *Client) Submit(ctx context.Context, req Request) (Response, error) {
	if c.endpoint == "" {
		return Response{}, ErrNotConfigured
	}
	if req.AudioURLs == nil {
		req.AudioURLs = []string{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn().Int("status", resp.StatusCode).Str("submission_id", req.SubmissionURL).Msg("grading api rejected submission")
		return Response{}, fmt.Errorf("grading api returned status %d", resp.StatusCode)
	}

	out := Response{Success: true, Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.logger.Debug().Err(err).Msg("grading response is not json")
		}
	}
	out.Raw = raw

	if !out.Success {
		c.logger.Warn().Str("submission_id", req.SubmissionURL).Str("message", out.Message).Msg("grading api declined submission")
		if out.Message != "" {
			return out, fmt.Errorf("%w: %s", ErrRejected, out.Message)
		}
		return out, ErrRejected
	}

	c.logger.Info().Str("submission_id", req.SubmissionURL).Int("recordings", len(req.AudioURLs)).Msg("submission forwarded to grading")
	return out, nil
}
