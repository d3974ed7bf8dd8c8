package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const QueuedSubject = "bookings.fallback.queued"

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("clinic-appointment-notifications"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

type queuedSignal struct {
	QueueID    string    `json:"queueId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NATSNotifier publishes the id of every new item. The payload stays in
// Redis; subscribers fetch it from there.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: QueuedSubject}
}

func (n *NATSNotifier) Notify(_ context.Context, item Item) error {
	data, err := json.Marshal(queuedSignal{QueueID: item.ID, EnqueuedAt: item.EnqueuedAt})
	if err != nil {
		return fmt.Errorf("encode queued signal: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}
