package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// maxResponseBytes bounds how much of a response body is kept as job output
const maxResponseBytes = 1 << 20

// HTTPPayload describes a network-call job
type HTTPPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // Default: GET
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"` // JSON string is sent verbatim, anything else as JSON
}

// HTTPStrategy performs outbound HTTP requests
type HTTPStrategy struct {
	client *httpclient.SaferClient
	logger *zap.SugaredLogger
}

// NewHTTPStrategy creates the network-call strategy
func NewHTTPStrategy(client *httpclient.SaferClient, logger *zap.SugaredLogger) *HTTPStrategy {
	return &HTTPStrategy{client: client, logger: logger}
}

// Type implements Strategy
func (s *HTTPStrategy) Type() schedule.JobType { return schedule.TypeHTTP }

// Execute implements Strategy
func (s *HTTPStrategy) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p HTTPPayload
	if err := decodePayload(schedule.TypeHTTP, payload, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, &schedule.ExecutionError{Type: schedule.TypeHTTP, Err: errors.New("payload.url is required")}
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}

	body, contentType := requestBody(p.Body)
	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, &schedule.ExecutionError{Type: schedule.TypeHTTP, Err: errors.Wrap(err, "failed to build request")}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &schedule.ExecutionError{Type: schedule.TypeHTTP, Err: errors.Wrapf(err, "%s %s", method, p.URL)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &schedule.ExecutionError{Type: schedule.TypeHTTP, Err: errors.Wrap(err, "failed to read response")}
	}

	logger.FromContext(ctx, s.logger).Debugw("Remote call finished",
		logger.FieldURL, p.URL,
		"method", method,
		logger.FieldStatus, resp.StatusCode,
		"bytes", len(respBody),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &schedule.RemoteCallError{URL: p.URL, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return jsonResult(respBody), nil
}

func requestBody(raw json.RawMessage) (io.Reader, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.NewReader(text), "text/plain; charset=utf-8"
	}
	return bytes.NewReader(raw), "application/json"
}
