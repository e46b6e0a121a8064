package devserver

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Broker publishes queue events to NATS. A nil *Broker is valid and
// publishes nothing, so the server runs fine without a broker configured.
type Broker struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// ConnectBroker dials NATS at url. An empty url disables the broker.
func ConnectBroker(url string, log zerolog.Logger) (*Broker, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("akim-devserver"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Broker{nc: nc, log: log}, nil
}

// Publish sends the payload as JSON on the subject. Failures are logged,
// never propagated; the queue does not depend on the broker.
func (b *Broker) Publish(subject string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("event marshal failed")
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// Close drains the connection.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	b.nc.Drain()
}
