package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the subset of *nats.Conn used by NATSStore.
type Publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSStore fans entries out on <prefix>.<device_id>.
type NATSStore struct {
	Prefix string

	conn   Publisher
	logger zerolog.Logger
}

// ConnectNATS dials url with the reconnect settings used by the sync daemon.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func NewNATSStore(prefix string, conn Publisher, logger zerolog.Logger) *NATSStore {
	return &NATSStore{Prefix: prefix, conn: conn, logger: logger}
}

func (s *NATSStore) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	subject := s.Prefix + "." + e.DeviceID
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (s *NATSStore) Close() error {
	return s.conn.Drain()
}
