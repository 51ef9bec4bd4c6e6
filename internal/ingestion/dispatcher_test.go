package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"OptionLadder/internal/ingestion"
	"OptionLadder/internal/market"
	"OptionLadder/internal/oracle"
	"OptionLadder/internal/vault"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type dispatchFixture struct {
	eng     *market.Engine
	backend *vault.InMemoryBackend
	clock   *testClock
	oracle  *oracle.Static
	cmdChan chan ingestion.RawCommand
	disp    *ingestion.Dispatcher
}

func (f *dispatchFixture) fund(account uuid.UUID) {
	f.backend.Credit(account, decimal.NewFromInt(1_000_000))
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	backend := vault.NewInMemoryBackend()
	lp := uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	backend.Credit(lp, decimal.NewFromInt(1_000_000))
	src := oracle.NewStatic()

	eng, err := market.New(market.Config{
		Asset:         "ETH",
		Strikes:       []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(200)},
		Expiry:        clock.now.Add(24 * time.Hour),
		FeeRate:       decimal.NewFromFloat(0.01),
		DisputeWindow: time.Hour,
		Admin:         uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
	}, market.Deps{
		Clock:  clock,
		Oracle: src,
		Vault:  vault.New("ETH", backend),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	if _, err := eng.Deposit(context.Background(), lp, decimal.NewFromInt(1000), decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	cmdChan := make(chan ingestion.RawCommand, 8)
	return &dispatchFixture{
		eng:     eng,
		backend: backend,
		clock:   clock,
		oracle:  src,
		cmdChan: cmdChan,
		disp:    ingestion.NewDispatcher(eng, cmdChan, 128, nil),
	}
}

// dispatch runs the dispatcher just long enough to process queued commands.
func (f *dispatchFixture) dispatch(t *testing.T) {
	t.Helper()
	close(f.cmdChan)
	if err := f.disp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func rawCommand(t *testing.T, subject string, payload map[string]interface{}, acked, naked *int) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		Ack:       func() { *acked++ },
		Nak:       func() { *naked++ },
	}
}

func buyPayload(cmdID string) map[string]interface{} {
	return map[string]interface{}{
		"command_id":   cmdID,
		"account":      "770e8400-e29b-41d4-a716-446655440002",
		"is_long":      true,
		"strike_index": 0,
		"quantity":     "10",
		"limit":        "100",
	}
}

func TestDispatchBuyAppliesAndAcks(t *testing.T) {
	f := newDispatchFixture(t)
	trader := uuid.MustParse("770e8400-e29b-41d4-a716-446655440002")
	// the trader needs funds behind the vault backend
	f.fund(trader)

	var acked, naked int
	f.cmdChan <- rawCommand(t, "options.cmd.buy", buyPayload("550e8400-e29b-41d4-a716-446655440000"), &acked, &naked)
	f.dispatch(t)

	if acked != 1 || naked != 0 {
		t.Fatalf("acked=%d naked=%d, want 1/0", acked, naked)
	}
	pos, err := f.eng.PositionOf(trader, true, 0)
	if err != nil {
		t.Fatalf("PositionOf: %v", err)
	}
	if !pos.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("position = %s, want 10", pos)
	}
}

func TestDispatchDuplicateDropped(t *testing.T) {
	f := newDispatchFixture(t)
	trader := uuid.MustParse("770e8400-e29b-41d4-a716-446655440002")
	f.fund(trader)

	var acked, naked int
	f.cmdChan <- rawCommand(t, "options.cmd.buy", buyPayload("550e8400-e29b-41d4-a716-446655440000"), &acked, &naked)
	f.cmdChan <- rawCommand(t, "options.cmd.buy", buyPayload("550e8400-e29b-41d4-a716-446655440000"), &acked, &naked)
	f.dispatch(t)

	if acked != 2 || naked != 0 {
		t.Fatalf("acked=%d naked=%d, want 2/0", acked, naked)
	}
	// the redelivery must not apply twice
	pos, _ := f.eng.PositionOf(trader, true, 0)
	if !pos.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("position = %s, want 10", pos)
	}
}

func TestDispatchMalformedAcked(t *testing.T) {
	f := newDispatchFixture(t)

	var acked, naked int
	raw := ingestion.RawCommand{
		Subject: "options.cmd.buy",
		Data:    []byte("{broken"),
		Ack:     func() { acked++ },
		Nak:     func() { naked++ },
	}
	f.cmdChan <- raw
	f.dispatch(t)

	if acked != 1 || naked != 0 {
		t.Fatalf("acked=%d naked=%d, want 1/0", acked, naked)
	}
}

func TestDispatchTerminalRejectionAcked(t *testing.T) {
	f := newDispatchFixture(t)

	// settle before expiry is a terminal wrong-phase rejection
	var acked, naked int
	f.cmdChan <- rawCommand(t, "options.cmd.settle", map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"account":    "770e8400-e29b-41d4-a716-446655440002",
	}, &acked, &naked)
	f.dispatch(t)

	if acked != 1 || naked != 0 {
		t.Fatalf("acked=%d naked=%d, want 1/0", acked, naked)
	}
}

func TestDispatchMissingPriceNaked(t *testing.T) {
	f := newDispatchFixture(t)
	f.clock.now = f.clock.now.Add(25 * time.Hour)

	// expired but the oracle has no price yet: transient, retry later
	var acked, naked int
	f.cmdChan <- rawCommand(t, "options.cmd.settle", map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"account":    "770e8400-e29b-41d4-a716-446655440002",
	}, &acked, &naked)
	f.dispatch(t)

	if acked != 0 || naked != 1 {
		t.Fatalf("acked=%d naked=%d, want 0/1", acked, naked)
	}
	if _, settled := f.eng.SettlementPrice(); settled {
		t.Fatal("market settled without a price")
	}
}
