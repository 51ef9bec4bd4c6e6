// Package oracle supplies the settlement price for a market.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when an oracle has no price to report yet.
var ErrNoPrice = errors.New("oracle: no price available")

// Source supplies one settlement price on demand. Implementations must be
// safe for concurrent use; the market calls Price at most a handful of times
// (settlement plus admin corrections).
type Source interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// Static is a fixed-price source, settable at any time. Used for tests and
// for markets whose settlement price is pinned operationally.
type Static struct {
	mu    sync.RWMutex
	price decimal.Decimal
	set   bool
}

func NewStatic() *Static {
	return &Static{}
}

// SetPrice pins the price the source will report.
func (s *Static) SetPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
	s.set = true
}

func (s *Static) Price(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return decimal.Zero, ErrNoPrice
	}
	return s.price, nil
}

// priceUpdate is the JSON wire format published by upstream price feeds.
type priceUpdate struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// NATSFeed caches the latest price seen on a NATS subject. Updates with a
// non-positive or unparseable price are logged and dropped; the previous
// price stays in effect.
type NATSFeed struct {
	mu    sync.RWMutex
	price decimal.Decimal
	seen  bool
	sub   *nats.Subscription
	log   zerolog.Logger
}

// SubscribeNATS starts consuming price updates from subject.
func SubscribeNATS(nc *nats.Conn, subject string, log zerolog.Logger) (*NATSFeed, error) {
	f := &NATSFeed{log: log}
	sub, err := nc.Subscribe(subject, f.handle)
	if err != nil {
		return nil, fmt.Errorf("oracle: subscribe %s: %w", subject, err)
	}
	f.sub = sub
	return f, nil
}

func (f *NATSFeed) handle(msg *nats.Msg) {
	var upd priceUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		f.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed price update")
		return
	}
	p, err := decimal.NewFromString(upd.Price)
	if err != nil || p.Sign() <= 0 {
		f.log.Warn().Str("price", upd.Price).Str("asset", upd.Asset).Msg("dropping non-positive price update")
		return
	}
	f.mu.Lock()
	f.price = p
	f.seen = true
	f.mu.Unlock()
}

func (f *NATSFeed) Price(ctx context.Context) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.seen {
		return decimal.Zero, ErrNoPrice
	}
	return f.price, nil
}

// Stop unsubscribes from the feed.
func (f *NATSFeed) Stop() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}
