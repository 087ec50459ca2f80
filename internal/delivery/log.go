package delivery

import (
	"context"

	"go.uber.org/zap"
)

// LogProvider writes the digest to the log instead of sending it. Dry runs
// use it.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a log-only provider.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger.Named("mail")}
}

// Name implements Provider.
func (l *LogProvider) Name() string { return ProviderLog }

// Send logs the message.
func (l *LogProvider) Send(_ context.Context, msg Message) error {
	l.logger.Info("digest (not sent)",
		zap.Strings("to", msg.Recipients.To),
		zap.Strings("cc", msg.Recipients.Cc),
		zap.String("subject", msg.Subject),
		zap.Int("records", len(msg.Records)))
	l.logger.Debug("digest body", zap.String("body", msg.Body))
	return nil
}
