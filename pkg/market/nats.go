package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSNotifier carries ProviderChanged events over a NATS subject so every
// service instance refreshes its forms when the price service announces a change.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

func NewNATSNotifier(nc *nats.Conn, subject string, log *zap.SugaredLogger) *NATSNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NATSNotifier{nc: nc, subject: subject, log: log}
}

func (n *NATSNotifier) Subscribe(fn func(ProviderChanged)) (Subscription, error) {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		var ev ProviderChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.log.Warnw("provider_event_decode_failed", "subject", msg.Subject, "err", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}
	return sub, nil
}

func (n *NATSNotifier) Publish(ev ProviderChanged) error {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal provider event: %w", err)
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

var _ Notifier = (*NATSNotifier)(nil)
