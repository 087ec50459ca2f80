package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// SMTPConfig configures the SMTP provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Attempts uint
	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPProvider sends digests through an SMTP relay. net/smtp negotiates
// STARTTLS when the server offers it.
type SMTPProvider struct {
	cfg      SMTPConfig
	from     string
	logger   *zap.Logger
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(cfg SMTPConfig, from string, logger *zap.Logger) *SMTPProvider {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &SMTPProvider{
		cfg:      cfg,
		from:     from,
		logger:   logger.Named("smtp"),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Name implements Provider.
func (p *SMTPProvider) Name() string { return ProviderSMTP }

// Send implements Provider.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if msg.Recipients.Empty() {
		return wrap(p, errors.New("no recipients"))
	}
	raw, err := buildMIME(p.from, msg, p.now())
	if err != nil {
		return wrap(p, err)
	}
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	err = retry.Do(
		func() error {
			start := time.Now()
			p.logger.Info("SMTP send starting",
				zap.String("addr", addr), zap.Int("recipients", len(msg.Recipients.All())))
			err := p.sendCtx(ctx, addr, auth, msg.Recipients.All(), raw)
			if err != nil {
				var tpErr *textproto.Error
				if errors.As(err, &tpErr) && tpErr.Code >= 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			p.logger.Info("SMTP send completed", zap.Duration("dur", time.Since(start)))
			return nil
		},
		retry.Attempts(p.cfg.Attempts),
		retry.Delay(p.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(p.cfg.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("retrying SMTP send after error", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	return wrap(p, err)
}

// sendCtx runs the blocking net/smtp call and gives up when ctx ends.
func (p *SMTPProvider) sendCtx(ctx context.Context, addr string, auth smtp.Auth, to []string, raw []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- p.sendMail(addr, auth, p.from, to, raw)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}
