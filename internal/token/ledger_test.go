package token_test

import (
	"errors"
	"testing"

	"OptionLadder/internal/token"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger_InitialState(t *testing.T) {
	l := token.NewLedger("C300L")
	if !l.TotalSupply().IsZero() {
		t.Errorf("initial supply should be 0, got %s", l.TotalSupply())
	}
	if !l.BalanceOf(uuid.New()).IsZero() {
		t.Error("unknown account should have zero balance")
	}
}

func TestLedger_MintAndBurn(t *testing.T) {
	l := token.NewLedger("C300L")
	alice := uuid.New()
	bob := uuid.New()

	if err := l.Mint(alice, d("10")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(bob, d("2.5")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if got := l.TotalSupply(); !got.Equal(d("12.5")) {
		t.Errorf("supply: got %s, want 12.5", got)
	}
	if got := l.BalanceOf(alice); !got.Equal(d("10")) {
		t.Errorf("alice balance: got %s, want 10", got)
	}

	if err := l.Burn(alice, d("4")); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := l.BalanceOf(alice); !got.Equal(d("6")) {
		t.Errorf("alice balance after burn: got %s, want 6", got)
	}
	if got := l.TotalSupply(); !got.Equal(d("8.5")) {
		t.Errorf("supply after burn: got %s, want 8.5", got)
	}
}

func TestLedger_BurnInsufficient(t *testing.T) {
	l := token.NewLedger("C300L")
	alice := uuid.New()

	if err := l.Mint(alice, d("3")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := l.Burn(alice, d("3.000001"))
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// no partial burn
	if got := l.BalanceOf(alice); !got.Equal(d("3")) {
		t.Errorf("balance changed on failed burn: %s", got)
	}
	if got := l.TotalSupply(); !got.Equal(d("3")) {
		t.Errorf("supply changed on failed burn: %s", got)
	}
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	l := token.NewLedger("LP")
	alice := uuid.New()

	if err := l.Mint(alice, decimal.Zero); err == nil {
		t.Error("mint of zero should fail")
	}
	if err := l.Mint(alice, d("-1")); err == nil {
		t.Error("mint of negative should fail")
	}
	if err := l.Burn(alice, decimal.Zero); err == nil {
		t.Error("burn of zero should fail")
	}
}
