package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig configures the Gmail API provider. Without a credentials
// file, application default credentials are used.
type GmailConfig struct {
	CredentialsFile string
	Endpoint        string
}

// NewGmailService builds a Gmail API client with the send scope.
func NewGmailService(ctx context.Context, cfg GmailConfig) (*gmail.Service, error) {
	opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// GmailProvider sends emails via the Gmail API as the authenticated user.
type GmailProvider struct {
	service *gmail.Service
	from    string
	logger  *zap.Logger
	now     func() time.Time
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, from string, logger *zap.Logger) *GmailProvider {
	return &GmailProvider{service: service, from: from, logger: logger.Named("gmail"), now: time.Now}
}

// Name implements Provider.
func (g *GmailProvider) Name() string { return ProviderGmail }

// Send implements Provider.
func (g *GmailProvider) Send(ctx context.Context, msg Message) error {
	raw, err := buildMIME(g.from, msg, g.now())
	if err != nil {
		return wrap(g, err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)

	err = retry.Do(
		func() error {
			start := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
			if err != nil {
				g.logger.Warn("Gmail API send failed", zap.Error(err))
				return err
			}
			g.logger.Info("Gmail API request completed", zap.Duration("dur", time.Since(start)))
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("retrying Gmail send after error", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	return wrap(g, err)
}
