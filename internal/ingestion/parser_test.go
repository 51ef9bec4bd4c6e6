package ingestion_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"OptionLadder/internal/ingestion"
)

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseBuyCommand(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account":      "660e8400-e29b-41d4-a716-446655440001",
		"is_long":      true,
		"strike_index": 1,
		"quantity":     "10.5",
		"limit":        "120.25",
	}

	cmd, err := ingestion.ParseCommand("options.cmd.buy", marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cmd.Type != ingestion.CommandBuy {
		t.Errorf("type: got %s, want buy", cmd.Type)
	}
	if cmd.ID != uuid.MustParse("550e8400-e29b-41d4-a716-446655440000") {
		t.Errorf("command_id: got %s", cmd.ID)
	}
	if !cmd.IsLong {
		t.Error("is_long: got false, want true")
	}
	if cmd.StrikeIndex != 1 {
		t.Errorf("strike_index: got %d, want 1", cmd.StrikeIndex)
	}
	if cmd.Quantity.String() != "10.5" {
		t.Errorf("quantity: got %s, want 10.5", cmd.Quantity)
	}
	if cmd.Limit.String() != "120.25" {
		t.Errorf("limit: got %s, want 120.25", cmd.Limit)
	}
}

func TestParseSellDefaultsLimit(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account":      "660e8400-e29b-41d4-a716-446655440001",
		"is_long":      false,
		"strike_index": 0,
		"quantity":     "3",
	}

	cmd, err := ingestion.ParseCommand("options.cmd.sell", marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Type != ingestion.CommandSell {
		t.Errorf("type: got %s, want sell", cmd.Type)
	}
	if !cmd.Limit.IsZero() {
		t.Errorf("limit should default to zero, got %s", cmd.Limit)
	}
}

func TestParseSettleCommand(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"account":    "660e8400-e29b-41d4-a716-446655440001",
	}

	cmd, err := ingestion.ParseCommand("options.cmd.settle", marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Type != ingestion.CommandSettle {
		t.Errorf("type: got %s, want settle", cmd.Type)
	}
}

func TestParseRejections(t *testing.T) {
	valid := func() map[string]interface{} {
		return map[string]interface{}{
			"command_id":   "550e8400-e29b-41d4-a716-446655440000",
			"account":      "660e8400-e29b-41d4-a716-446655440001",
			"is_long":      true,
			"strike_index": 0,
			"quantity":     "1",
			"limit":        "10",
		}
	}

	cases := []struct {
		name    string
		subject string
		mutate  func(map[string]interface{})
	}{
		{"unknown subject", "options.cmd.liquidate", nil},
		{"bare subject", "options", nil},
		{"bad command id", "options.cmd.buy", func(p map[string]interface{}) { p["command_id"] = "nope" }},
		{"bad account", "options.cmd.buy", func(p map[string]interface{}) { p["account"] = "nope" }},
		{"zero quantity", "options.cmd.buy", func(p map[string]interface{}) { p["quantity"] = "0" }},
		{"negative quantity", "options.cmd.buy", func(p map[string]interface{}) { p["quantity"] = "-1" }},
		{"quantity not a number", "options.cmd.buy", func(p map[string]interface{}) { p["quantity"] = "ten" }},
		{"buy without is_long", "options.cmd.buy", func(p map[string]interface{}) { delete(p, "is_long") }},
		{"buy without strike_index", "options.cmd.buy", func(p map[string]interface{}) { delete(p, "strike_index") }},
		{"buy without limit", "options.cmd.buy", func(p map[string]interface{}) { delete(p, "limit") }},
		{"deposit without limit", "options.cmd.deposit", func(p map[string]interface{}) { delete(p, "limit") }},
		{"negative sell limit", "options.cmd.sell", func(p map[string]interface{}) { p["limit"] = "-1" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := valid()
			if tc.mutate != nil {
				tc.mutate(payload)
			}
			if _, err := ingestion.ParseCommand(tc.subject, marshal(t, payload)); err == nil {
				t.Fatal("expected parse error, got nil")
			}
		})
	}

	if _, err := ingestion.ParseCommand("options.cmd.buy", []byte("{not json")); err == nil {
		t.Fatal("expected error on malformed JSON")
	}
}

func TestParseWithdrawCommand(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"account":    "660e8400-e29b-41d4-a716-446655440001",
		"quantity":   "250",
		"limit":      "100",
	}

	cmd, err := ingestion.ParseCommand("options.cmd.withdraw", marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Type != ingestion.CommandWithdraw {
		t.Errorf("type: got %s, want withdraw", cmd.Type)
	}
	if cmd.Quantity.String() != "250" {
		t.Errorf("quantity: got %s, want 250", cmd.Quantity)
	}
	if cmd.Limit.String() != "100" {
		t.Errorf("limit: got %s, want 100", cmd.Limit)
	}
}

func TestDedup(t *testing.T) {
	d := ingestion.NewDedup(2)

	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	c := uuid.MustParse("00000000-0000-0000-0000-000000000003")

	if d.Contains(a) {
		t.Fatal("empty dedup contains a")
	}
	d.Mark(a)
	d.Mark(b)
	if !d.Contains(a) || !d.Contains(b) {
		t.Fatal("marked IDs not found")
	}

	// the Contains calls promoted a then b, so a is now oldest
	d.Mark(c)
	if d.Contains(a) {
		t.Fatal("oldest entry not evicted")
	}
	if !d.Contains(b) || !d.Contains(c) {
		t.Fatal("recent entries evicted")
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
}
