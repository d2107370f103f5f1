package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"
)

// Webhook POSTs each file to a URL. The body is the raw file; the path is
// sent in the X-Pagesaver-Path header. Retries are off by default.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the number of retries after a failed POST.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookClient sets the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Persist(ctx context.Context, data []byte, suggestedPath string) (string, error) {
	ctype := mime.TypeByExtension(path.Ext(suggestedPath))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", ctype)
		req.Header.Set("X-Pagesaver-Path", suggestedPath)

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook: post failed", "attempt", attempt, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return suggestedPath, nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode/100 == 4 {
			break
		}
	}
	return "", fmt.Errorf("webhook: %s: %w", w.url, lastErr)
}

func (w *Webhook) Close() error { return nil }
