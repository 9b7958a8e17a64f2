package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/solmirror/mirrorbot/internal/domain"
)

// BusBridge implements domain.SignalBus by forwarding every published event
// to an inner bus (Redis Pub/Sub) and rendering it as an operator
// notification. It lets position lifecycle events reach Telegram and Discord
// without the registry knowing about notification channels.
type BusBridge struct {
	inner    domain.SignalBus // may be nil
	notifier *Notifier
}

// NewBusBridge creates a BusBridge over the given inner bus and notifier.
func NewBusBridge(inner domain.SignalBus, notifier *Notifier) *BusBridge {
	return &BusBridge{inner: inner, notifier: notifier}
}

// Publish forwards the payload to the inner bus and dispatches a
// notification. Notification failures never fail the publish; the bus is
// best-effort by contract.
func (b *BusBridge) Publish(ctx context.Context, channel string, payload []byte) error {
	var innerErr error
	if b.inner != nil {
		innerErr = b.inner.Publish(ctx, channel, payload)
	}

	event, title, message := renderEvent(payload)
	if event != "" {
		_ = b.notifier.Notify(ctx, event, title, message)
	}

	return innerErr
}

// renderEvent turns an event payload into a notification title and body.
func renderEvent(payload []byte) (event, title, message string) {
	var detail map[string]any
	if err := json.Unmarshal(payload, &detail); err != nil {
		return "", "", ""
	}

	event, _ = detail["event"].(string)
	if event == "" {
		return "", "", ""
	}
	delete(detail, "event")

	switch event {
	case "position_opened":
		title = "Position opened"
	case "position_closed":
		title = "Position closed"
	default:
		title = strings.ReplaceAll(event, "_", " ")
	}

	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, detail[k]))
	}
	return event, title, strings.Join(lines, "\n")
}

// Compile-time interface check.
var _ domain.SignalBus = (*BusBridge)(nil)
