// Package delivery sends rendered digests through a pluggable provider.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Provider names accepted in configuration.
const (
	ProviderSMTP  = "smtp"
	ProviderBrevo = "brevo"
	ProviderGmail = "gmail"
	ProviderLog   = "log"
)

// Recipients of a digest.
type Recipients struct {
	To  []string `mapstructure:"to" yaml:"to"`
	Cc  []string `mapstructure:"cc" yaml:"cc"`
	Bcc []string `mapstructure:"bcc" yaml:"bcc"`
}

// All returns every envelope recipient.
func (r Recipients) All() []string {
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	out = append(out, r.To...)
	out = append(out, r.Cc...)
	return append(out, r.Bcc...)
}

// Empty reports whether there is nobody to send to.
func (r Recipients) Empty() bool { return len(r.To)+len(r.Cc)+len(r.Bcc) == 0 }

// String is the recipient set persisted with a notification.
func (r Recipients) String() string {
	return strings.Join(r.To, "; ")
}

// Message is one digest.
type Message struct {
	Recipients Recipients
	Subject    string
	Body       string
	Records    []tender.Record
	Summary    []tender.SourceStatus
}

// Provider delivers a message.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	From     string
	FromName string
	SMTP     SMTPConfig
	Brevo    BrevoConfig
	Gmail    GmailConfig
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderSMTP:
		return NewSMTPProvider(cfg.SMTP, cfg.From, logger), nil
	case ProviderBrevo:
		return NewBrevoProvider(cfg.Brevo, cfg.From, cfg.FromName, logger), nil
	case ProviderGmail:
		svc, err := NewGmailService(ctx, cfg.Gmail)
		if err != nil {
			return nil, err
		}
		return NewGmailProvider(svc, cfg.From, logger), nil
	case ProviderLog, "":
		return NewLogProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// wrap tags err with the provider name.
func wrap(p Provider, err error) error {
	if err == nil {
		return nil
	}
	return &tender.DeliveryError{Provider: p.Name(), Err: err}
}
