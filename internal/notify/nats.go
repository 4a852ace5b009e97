package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures a NATSSink.
type NATSConfig struct {
	Subject string
	Stream  string
}

// NATSSink publishes completed leads to a JetStream stream. The correlation
// id is the message id, so redeliveries inside the stream's duplicate window
// are stored once.
type NATSSink struct {
	js      nats.JetStreamContext
	subject string
}

// NewNATSSink creates the sink, adding the stream when it does not exist.
func NewNATSSink(nc *nats.Conn, cfg NATSConfig) (*NATSSink, error) {
	if nc == nil {
		return nil, errors.New("nats: connection is required")
	}
	if cfg.Subject == "" || cfg.Stream == "" {
		return nil, errors.New("nats: subject and stream are required")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
			Storage:  nats.FileStorage,
		}); err != nil {
			return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
		}
	}

	return &NATSSink{js: js, subject: cfg.Subject}, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Send publishes p as JSON and waits for the stream ack.
func (s *NATSSink) Send(ctx context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = data
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(p.CorrelationID)); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return nil
}
