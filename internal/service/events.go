// Package service implements the marketplace's business logic on top of the
// domain store and cache interfaces.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gavelmarket/gavel/internal/domain"
)

// busEvent is the JSON envelope published on the signal bus. The WebSocket
// hub relays it verbatim to subscribed clients.
type busEvent struct {
	Event  string         `json:"event"`
	At     time.Time      `json:"at"`
	Detail map[string]any `json:"detail,omitempty"`
}

// publishEvent fans an event out to the pub/sub channel, the matching durable
// stream, and the audit log. Delivery is best effort: a bus or audit failure
// is logged and never fails the operation that produced the event.
func publishEvent(
	ctx context.Context,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	channel, event string,
	detail map[string]any,
) {
	payload, err := json.Marshal(busEvent{Event: event, At: time.Now().UTC(), Detail: detail})
	if err != nil {
		logger.Error("marshal bus event", "event", event, "error", err)
		return
	}

	if bus != nil {
		if err := bus.Publish(ctx, channel, payload); err != nil {
			logger.Warn("publish event", "channel", channel, "event", event, "error", err)
		}
		if err := bus.StreamAppend(ctx, domain.StreamKey(channel), payload); err != nil {
			logger.Warn("append event stream", "channel", channel, "event", event, "error", err)
		}
	}

	if audit != nil {
		if err := audit.Log(ctx, event, detail); err != nil {
			logger.Warn("audit log", "event", event, "error", err)
		}
	}
}
