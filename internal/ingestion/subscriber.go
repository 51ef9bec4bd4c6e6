// Package ingestion receives market commands over NATS JetStream, parses
// and deduplicates them, and applies them to the market engine.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// RawCommand is one undecoded command message. Ack confirms processing to
// JetStream; Nak requests redelivery.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	Ack       func()
	Nak       func()
}

// Subscriber feeds commands from the OPTION_CMDS stream into cmdChan.
type Subscriber struct {
	js        jetstream.JetStream
	cmdChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand) *Subscriber {
	return &Subscriber{js: js, cmdChan: cmdChan}
}

// Subscribe creates the durable consumer and starts delivery. Explicit ACK
// with bounded redelivery: a command that keeps failing transiently is
// parked after 5 attempts.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, "OPTION_CMDS", jetstream.ConsumerConfig{
		Durable:       "optionladder-cmds",
		FilterSubject: "options.cmd.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create command consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			Ack:       func() { msg.Ack() },
			Nak:       func() { msg.Nak() },
		}
		select {
		case s.cmdChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume commands: %w", err)
	}
	s.consumers = append(s.consumers, cc)
	log.Println("INFO: subscribed to options.cmd.> (consumer=optionladder-cmds)")
	return nil
}

// Stop halts delivery.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	log.Println("INFO: command subscriber stopped")
}

// EnsureCommandStream creates the inbound command stream.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "OPTION_CMDS",
		Subjects:  []string{"options.cmd.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	log.Println("INFO: ensured stream OPTION_CMDS")
	return nil
}

// ConnectNATS establishes a NATS connection and a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
