package tape

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"OptionLadder/internal/observability"
)

// Publisher pushes persisted tape records to NATS for downstream consumers.
// Subjects follow options.tape.{type}. Publish failures are non-fatal: the
// tape in Postgres remains the source of truth.
type Publisher struct {
	js      jetstream.JetStream
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, metrics: metrics}
}

// Publish sends one record. Called by the tape worker after the record's
// batch has committed.
func (p *Publisher) Publish(ctx context.Context, rec Record) {
	data, err := json.Marshal(struct {
		Record
		Type string `json:"type"`
	}{Record: rec, Type: rec.TypeName()})
	if err != nil {
		log.Printf("WARN: tape publish marshal seq=%d: %v", rec.Sequence, err)
		return
	}

	subject := fmt.Sprintf("options.tape.%s", strings.ToLower(rec.TypeName()))
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		log.Printf("WARN: tape publish failed seq=%d: %v", rec.Sequence, err)
		if p.metrics != nil {
			p.metrics.TapePublishErrors.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.TapePublished.WithLabelValues(rec.TypeName()).Inc()
	}
}

// EnsureTapeStream creates the outbound tape stream.
func EnsureTapeStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "OPTION_TAPE",
		Subjects:  []string{"options.tape.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create tape stream: %w", err)
	}
	log.Println("INFO: ensured stream OPTION_TAPE")
	return nil
}
