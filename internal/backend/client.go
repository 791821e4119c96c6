// Package backend talks to the remote image-synthesis API: it submits a
// templated workflow and retrieves job status by handle. The caller drives
// repeated polling; a single Poll never waits for more than one round-trip.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pixelbot/internal/domain"
)

// Options configures the backend client.
type Options struct {
	BaseURL    string
	EndpointID string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client submits generation jobs and polls their status.
type Client struct {
	httpClient *http.Client
	baseURL    string
	endpointID string
	token      string
	template   *Template
}

// NewClient constructs a backend client around the given workflow template.
func NewClient(opts Options, template *Template) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.runpod.ai"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		endpointID: opts.EndpointID,
		token:      strings.TrimSpace(opts.APIKey),
		template:   template,
	}
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Submit templates the prompt and a fresh set of seeds into the workflow and
// sends it to the backend, returning the opaque job handle.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	payload, err := c.template.Payload(prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}
	body, err := json.Marshal(map[string]any{"input": payload})
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", domain.ErrBackendRejected, err)
	}

	endpoint := fmt.Sprintf("%s/v2/%s/run", c.baseURL, c.endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("%w: http %d", domain.ErrBackendRejected, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrBackendRejected, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", domain.ErrBackendRejected, out.Error)
		}
		return "", fmt.Errorf("%w: http %d", domain.ErrBackendRejected, resp.StatusCode)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: missing job id", domain.ErrBackendRejected)
	}
	return out.ID, nil
}

// PollState is the caller-facing classification of one status round-trip.
type PollState int

const (
	StatePending PollState = iota
	StateCompleted
	StateFailed
)

// PollResult carries the outcome of a single poll. Image is set only for
// StateCompleted, Reason only for StateFailed.
type PollResult struct {
	State  PollState
	Image  []byte
	Reason string
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Output struct {
		Images []struct {
			Data string `json:"data"`
		} `json:"images"`
	} `json:"output"`
}

// Poll fetches the job's current status. It never blocks longer than one
// round-trip; transport failures surface as ErrBackendUnavailable and the
// caller decides whether to retry.
func (c *Client) Poll(ctx context.Context, handle string) (PollResult, error) {
	endpoint := fmt.Sprintf("%s/v2/%s/status/%s", c.baseURL, c.endpointID, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PollResult{}, fmt.Errorf("%w: decode status: %v", domain.ErrBackendUnavailable, err)
	}

	switch out.Status {
	case "COMPLETED":
		if len(out.Output.Images) == 0 || out.Output.Images[0].Data == "" {
			return PollResult{State: StateFailed, Reason: "no image in output"}, nil
		}
		img, err := base64.StdEncoding.DecodeString(out.Output.Images[0].Data)
		if err != nil {
			return PollResult{State: StateFailed, Reason: "malformed image data"}, nil
		}
		return PollResult{State: StateCompleted, Image: img}, nil
	case "FAILED", "ERROR", "CANCELLED":
		reason := out.Error
		if reason == "" {
			reason = "unknown backend error"
		}
		return PollResult{State: StateFailed, Reason: reason}, nil
	default:
		// IN_QUEUE, IN_PROGRESS and anything unrecognized keep us polling.
		return PollResult{State: StatePending}, nil
	}
}
