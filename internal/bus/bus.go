package bus

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// New creates the event bus for cfg.Type. An empty type selects the
// in-process channel bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		b, err := NewNATSBus(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect heron bus to nats: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported event bus type %q (want channel or nats)", cfg.Type)
	}
}

