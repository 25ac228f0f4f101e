package notification

import (
	"context"

	"go.uber.org/zap"
)

const (
	// KindTransferReceived tells an account owner that money arrived.
	KindTransferReceived = "transfer_received"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *zap.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *zap.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		zap.String("kind", message.Kind),
		zap.String("destination", message.Destination),
		zap.String("body", message.Body),
	)
	return nil
}
