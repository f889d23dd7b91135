package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gavelmarket/gavel/internal/domain"
)

// Watcher bridges the signal bus to the notifier: it subscribes to the
// marketplace event channels and forwards each event through the notifier's
// event filter, so operators get alerts for sales, failed refunds, and
// failed withdrawals without polling.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher over the given bus and notifier.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// busEvent mirrors the envelope the services publish.
type busEvent struct {
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail"`
}

// Run subscribes to all marketplace channels and forwards events until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	channels := []string{
		domain.ChannelListings,
		domain.ChannelBids,
		domain.ChannelSales,
		domain.ChannelCredits,
	}
	for _, ch := range channels {
		msgCh, err := w.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go w.forward(ctx, ch, msgCh)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w *Watcher) forward(ctx context.Context, channel string, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				w.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}

			var ev busEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				w.logger.Warn("malformed bus event", slog.String("channel", channel))
				continue
			}

			title, message := formatEvent(ev)
			if err := w.notifier.Notify(ctx, ev.Event, title, message); err != nil {
				w.logger.Warn("notification failed",
					slog.String("event", ev.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// formatEvent renders a bus event as a short operator-readable notification.
func formatEvent(ev busEvent) (title, message string) {
	switch ev.Event {
	case domain.EventSaleSettled:
		title = "Sale settled"
		message = fmt.Sprintf("asset %v sold to %v for %v (%v)",
			ev.Detail["asset_id"], ev.Detail["winner"], ev.Detail["amount"], ev.Detail["kind"])
	case domain.EventRefundCredited:
		title = "Refund credited"
		message = fmt.Sprintf("direct refund of %v to %v failed (%v); amount credited",
			ev.Detail["amount"], ev.Detail["account"], ev.Detail["reason"])
	case domain.EventWithdrawFailed:
		title = "Withdrawal failed"
		message = fmt.Sprintf("credit withdrawal for %v failed; balance preserved",
			ev.Detail["account"])
	default:
		title = ev.Event
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			message = ev.Event
		} else {
			message = string(b)
		}
	}
	return title, message
}
