package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/channels/gochannel"
	"github.com/journeycrm/automation/pkg/channels/kafka"
)

// NewAuditPublisher creates the audit trail publisher for the given bus
// provider. Kafka carries audit events to downstream consumers; the
// in-process channel keeps single-binary deployments working without a
// broker.
func NewAuditPublisher(provider string, logger *slog.Logger) (audit.Publisher, error) {
	switch provider {
	case "kafka":
		pub, _, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "automation")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka audit channel: %w", err)
		}
		return audit.NewWatermillPublisher(pub), nil
	case "", "memory", "gochannel":
		pub, _, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process audit channel: %w", err)
		}
		return audit.NewWatermillPublisher(pub), nil
	default:
		return nil, fmt.Errorf("unsupported audit bus provider: %s", provider)
	}
}
