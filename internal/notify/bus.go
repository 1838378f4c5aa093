package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/seer-pm/seer/internal/domain"
)

// ChannelTx is the signal bus channel carrying transaction phase events.
const ChannelTx = "seer:tx"

// BusSender publishes events as JSON on a signal bus channel. The websocket
// hub relays that channel to connected browsers.
type BusSender struct {
	bus     domain.SignalBus
	channel string
}

// NewBusSender creates a sender for channel.
func NewBusSender(bus domain.SignalBus, channel string) *BusSender {
	return &BusSender{bus: bus, channel: channel}
}

func (b *BusSender) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return b.bus.Publish(ctx, b.channel, payload)
}

func (b *BusSender) Name() string { return "bus:" + b.channel }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
