package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// WebhookNotifier POSTs messages as JSON, retrying transient failures
type WebhookNotifier struct {
	url    string
	client *retryablehttp.Client
	logger *zap.SugaredLogger
}

// WebhookOptions configures a WebhookNotifier
type WebhookOptions struct {
	URL          string
	RetryMax     int
	Timeout      time.Duration
	RetryWaitMin time.Duration // Default: 1s
	RetryWaitMax time.Duration // Default: 30s
}

// NewWebhookNotifier creates a webhook sink
func NewWebhookNotifier(opts WebhookOptions, logger *zap.SugaredLogger) *WebhookNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = leveledLogger{logger.Named("webhook")}

	return &WebhookNotifier{url: opts.URL, client: client, logger: logger}
}

// Send posts msg to the webhook
func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "webhook delivery to %s failed", n.url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("webhook %s returned %d", n.url, resp.StatusCode)
	}

	n.logger.Debugw("Notification delivered",
		"kind", msg.Kind,
		logger.FieldJobID, msg.JobID,
		logger.FieldStatus, resp.StatusCode,
	)
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
