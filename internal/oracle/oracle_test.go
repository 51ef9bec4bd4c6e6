package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func natsMsg(data string) *nats.Msg {
	return &nats.Msg{Subject: "options.prices.ETH", Data: []byte(data)}
}

func TestStaticNoPrice(t *testing.T) {
	s := NewStatic()
	if _, err := s.Price(context.Background()); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("want ErrNoPrice, got %v", err)
	}
}

func TestStaticSetAndOverwrite(t *testing.T) {
	s := NewStatic()

	s.SetPrice(decimal.NewFromInt(150))
	p, err := s.Price(context.Background())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("price = %s, want 150", p)
	}

	s.SetPrice(decimal.NewFromInt(175))
	p, _ = s.Price(context.Background())
	if !p.Equal(decimal.NewFromInt(175)) {
		t.Fatalf("price = %s, want 175", p)
	}
}

func TestFeedDropsBadUpdates(t *testing.T) {
	f := &NATSFeed{log: zerolog.Nop()}

	f.handle(natsMsg(`{"asset":"ETH","price":"150.5"}`))
	p, err := f.Price(context.Background())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("price = %s, want 150.5", p)
	}

	// malformed and non-positive updates leave the cached price in place
	f.handle(natsMsg(`{broken`))
	f.handle(natsMsg(`{"asset":"ETH","price":"-3"}`))
	f.handle(natsMsg(`{"asset":"ETH","price":"0"}`))
	f.handle(natsMsg(`{"asset":"ETH","price":"abc"}`))

	p, _ = f.Price(context.Background())
	if !p.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("bad update moved price to %s", p)
	}
}
