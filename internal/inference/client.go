package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

var (
	// ErrSessionNotFound means the service no longer knows the session id.
	ErrSessionNotFound = errors.New("inference session not found")
)

// StatusError is a non-2xx answer from the inference service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned status %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for the inference service
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// NewClient creates a new inference service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
	}
}

// CreateSession loads a model on a backend and returns the remote session id.
// 404, 422 and 507 map to the session build sentinels.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions", c.serviceURL)
	body, status, err := c.do(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("model %s: %w", req.Model, session.ErrAssetMissing)
	case http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("backend %s: %w", req.Backend, session.ErrUnsupportedBackend)
	case http.StatusInsufficientStorage:
		return nil, fmt.Errorf("load %s on %s: %w", req.Model, req.Backend, session.ErrOutOfMemory)
	default:
		return nil, &StatusError{StatusCode: status, Body: detail(body)}
	}

	var resp CreateSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("inference service returned an empty session id")
	}

	c.logger.Debug("Inference session created", "session_id", resp.SessionID, "model", req.Model, "backend", req.Backend)
	return &resp, nil
}

// Infer runs detection for one frame in a remote session
func (c *Client) Infer(ctx context.Context, sessionID string, frame session.Frame, threshold *float64, classes []string) (*InferenceResponse, error) {
	req := InferenceRequest{
		Image:               base64.StdEncoding.EncodeToString(frame.Data),
		Format:              frame.Format,
		ConfidenceThreshold: threshold,
		EnabledClasses:      classes,
	}
	if req.Format == "" {
		req.Format = session.FormatJPEG
	}

	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/inference", c.serviceURL, url.PathEscape(sessionID))
	startTime := time.Now()
	body, status, err := c.do(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return nil, err
	}
	requestDuration := time.Since(startTime)

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	default:
		c.logger.Warn("Inference service returned error", "status", status, "response", detail(body))
		return nil, &StatusError{StatusCode: status, Body: detail(body)}
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug(
		"Inference completed",
		"session_id", sessionID,
		"detection_count", inferenceResp.DetectionCount,
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", requestDuration.Milliseconds(),
	)

	return &inferenceResp, nil
}

// DeleteSession unloads a remote session. Unknown sessions are not an error.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s", c.serviceURL, url.PathEscape(sessionID))
	body, status, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		c.logger.Debug("Inference session deleted", "session_id", sessionID)
		return nil
	default:
		return &StatusError{StatusCode: status, Body: detail(body)}
	}
}

// HealthCheck checks if the inference service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health/ready", c.serviceURL)
	_, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", status)
	}
	return nil
}

// ServiceURL returns the base URL the client talks to
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// detail extracts the error detail from a service error body
func detail(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != "" {
		return er.Detail
	}
	return string(body)
}
