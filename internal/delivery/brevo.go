package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

const defaultBrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoConfig configures the Brevo provider.
type BrevoConfig struct {
	APIKey   string
	Endpoint string
	Attempts uint
	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration
}

// BrevoProvider sends emails via the Brevo transactional API.
type BrevoProvider struct {
	cfg      BrevoConfig
	fromAddr string
	fromName string
	client   *http.Client
	logger   *zap.Logger
}

// NewBrevoProvider creates a new Brevo email provider.
func NewBrevoProvider(cfg BrevoConfig, fromAddr, fromName string, logger *zap.Logger) *BrevoProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultBrevoEndpoint
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &BrevoProvider{
		cfg:      cfg,
		fromAddr: fromAddr,
		fromName: fromName,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.Named("brevo"),
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Cc      []brevoContact `json:"cc,omitempty"`
	Bcc     []brevoContact `json:"bcc,omitempty"`
	Subject string         `json:"subject"`
	Text    string         `json:"textContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func contacts(addrs []string) []brevoContact {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]brevoContact, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, brevoContact{Email: sanitizeHeader(a)})
	}
	return out
}

type brevoStatusError struct{ code int }

func (e *brevoStatusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

// Name implements Provider.
func (b *BrevoProvider) Name() string { return ProviderBrevo }

// Send implements Provider.
func (b *BrevoProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients.To) == 0 {
		return wrap(b, errors.New("no To recipients"))
	}
	jsonData, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      contacts(msg.Recipients.To),
		Cc:      contacts(msg.Recipients.Cc),
		Bcc:     contacts(msg.Recipients.Bcc),
		Subject: sanitizeHeader(msg.Subject),
		Text:    msg.Body,
	})
	if err != nil {
		return wrap(b, fmt.Errorf("marshal request: %w", err))
	}

	err = retry.Do(
		func() error {
			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("api-key", b.cfg.APIKey)

			resp, err := b.client.Do(req)
			if err != nil {
				b.logger.Warn("Brevo API request failed", zap.Error(err))
				return err
			}
			defer func() {
				_, _ = io.Copy(io.Discard, resp.Body)
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("failed to close response body", zap.Error(closeErr))
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				statusErr := &brevoStatusError{code: resp.StatusCode}
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(statusErr)
				}
				b.logger.Warn("Brevo API returned non-2xx status", zap.Int("status_code", resp.StatusCode))
				return statusErr
			}
			b.logger.Info("Brevo API request completed",
				zap.Int("to", len(msg.Recipients.To)), zap.Duration("dur", time.Since(start)))
			return nil
		},
		retry.Attempts(b.cfg.Attempts),
		retry.Delay(b.cfg.RetryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*b.cfg.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("retrying Brevo send after error", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	return wrap(b, err)
}
