package vault_test

import (
	"context"
	"errors"
	"testing"

	"OptionLadder/internal/vault"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestVault_TransferInAndOut(t *testing.T) {
	ctx := context.Background()
	backend := vault.NewInMemoryBackend()
	v := vault.New("WETH", backend)
	alice := uuid.New()
	backend.Credit(alice, d("100"))

	if err := v.TransferIn(ctx, alice, d("40")); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := v.Balance(); !got.Equal(d("40")) {
		t.Errorf("held: got %s, want 40", got)
	}
	if got := backend.BalanceOf(alice); !got.Equal(d("60")) {
		t.Errorf("alice: got %s, want 60", got)
	}

	if err := v.TransferOut(ctx, alice, d("15")); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := v.Balance(); !got.Equal(d("25")) {
		t.Errorf("held: got %s, want 25", got)
	}
	if got := backend.BalanceOf(alice); !got.Equal(d("75")) {
		t.Errorf("alice: got %s, want 75", got)
	}
}

func TestVault_ZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	v := vault.New("WETH", vault.NewInMemoryBackend())

	if err := v.TransferIn(ctx, uuid.New(), decimal.Zero); err != nil {
		t.Errorf("zero transfer in should succeed: %v", err)
	}
	if err := v.TransferOut(ctx, uuid.New(), decimal.Zero); err != nil {
		t.Errorf("zero transfer out should succeed: %v", err)
	}
	if !v.Balance().IsZero() {
		t.Errorf("balance should remain 0, got %s", v.Balance())
	}
}

func TestVault_PullExceedsPayerBalance(t *testing.T) {
	ctx := context.Background()
	backend := vault.NewInMemoryBackend()
	v := vault.New("WETH", backend)
	alice := uuid.New()
	backend.Credit(alice, d("5"))

	err := v.TransferIn(ctx, alice, d("6"))
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !v.Balance().IsZero() {
		t.Errorf("held balance changed on failed pull: %s", v.Balance())
	}
}

func TestVault_FeeOnTransferRejected(t *testing.T) {
	ctx := context.Background()
	backend := vault.NewInMemoryBackend()
	backend.TransferFee = d("0.01")
	v := vault.New("FEE", backend)
	alice := uuid.New()
	backend.Credit(alice, d("100"))

	err := v.TransferIn(ctx, alice, d("50"))
	if !errors.Is(err, vault.ErrNonStandardTransfer) {
		t.Fatalf("expected ErrNonStandardTransfer, got %v", err)
	}
	if !v.Balance().IsZero() {
		t.Errorf("held balance must not change on rejected transfer: %s", v.Balance())
	}
}

func TestVault_TransferOutExceedsHeld(t *testing.T) {
	ctx := context.Background()
	backend := vault.NewInMemoryBackend()
	v := vault.New("WETH", backend)
	alice := uuid.New()
	backend.Credit(alice, d("10"))

	if err := v.TransferIn(ctx, alice, d("10")); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	err := v.TransferOut(ctx, alice, d("10.5"))
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}
