// Package vault tracks the market's held collateral balance and executes
// inbound/outbound transfers against a pluggable asset backend.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNonStandardTransfer is returned when the amount actually received
	// from a pull differs from the amount requested (fee-on-transfer or
	// otherwise non-standard assets).
	ErrNonStandardTransfer = errors.New("vault: received amount differs from requested")

	// ErrInsufficientFunds is returned when a pull exceeds the payer's
	// balance or a push exceeds the vault's held balance.
	ErrInsufficientFunds = errors.New("vault: insufficient funds")
)

// AssetBackend moves units of the collateral asset between external accounts
// and the vault. Pull returns the amount actually received, which may differ
// from the requested amount for non-standard assets.
type AssetBackend interface {
	Pull(ctx context.Context, from uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Push(ctx context.Context, to uuid.UUID, amount decimal.Decimal) error
}

// Vault holds the market's collateral. Not safe for concurrent mutation;
// the market engine is the single mutator.
type Vault struct {
	asset   string
	backend AssetBackend
	held    decimal.Decimal
}

func New(asset string, backend AssetBackend) *Vault {
	return &Vault{
		asset:   asset,
		backend: backend,
		held:    decimal.Zero,
	}
}

// Asset returns the collateral asset identifier.
func (v *Vault) Asset() string {
	return v.asset
}

// Balance returns the collateral currently held by the market.
func (v *Vault) Balance() decimal.Decimal {
	return v.held
}

// TransferIn pulls exactly amount from the payer. Fails with
// ErrNonStandardTransfer if the backend delivers any other amount, in which
// case the held balance is not updated.
func (v *Vault) TransferIn(ctx context.Context, from uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: transfer-in amount must be non-negative, got %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	received, err := v.backend.Pull(ctx, from, amount)
	if err != nil {
		return fmt.Errorf("vault: pull %s %s from %s: %w", amount, v.asset, from, err)
	}
	if !received.Equal(amount) {
		return fmt.Errorf("%w: requested %s, received %s", ErrNonStandardTransfer, amount, received)
	}
	v.held = v.held.Add(amount)
	return nil
}

// TransferOut pushes amount to the recipient and debits the held balance.
func (v *Vault) TransferOut(ctx context.Context, to uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("vault: transfer-out amount must be non-negative, got %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	if v.held.LessThan(amount) {
		return fmt.Errorf("%w: held %s, transfer-out of %s requested", ErrInsufficientFunds, v.held, amount)
	}
	if err := v.backend.Push(ctx, to, amount); err != nil {
		return fmt.Errorf("vault: push %s %s to %s: %w", amount, v.asset, to, err)
	}
	v.held = v.held.Sub(amount)
	return nil
}

// InMemoryBackend is a deterministic asset backend for tests and local runs.
// TransferFee simulates a fee-on-transfer asset: a fraction of every pull is
// withheld, so the vault receives less than requested.
type InMemoryBackend struct {
	balances    map[uuid.UUID]decimal.Decimal
	TransferFee decimal.Decimal
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		balances:    make(map[uuid.UUID]decimal.Decimal),
		TransferFee: decimal.Zero,
	}
}

// Credit funds an external account.
func (b *InMemoryBackend) Credit(account uuid.UUID, amount decimal.Decimal) {
	b.balances[account] = b.balances[account].Add(amount)
}

// BalanceOf returns an external account's balance.
func (b *InMemoryBackend) BalanceOf(account uuid.UUID) decimal.Decimal {
	return b.balances[account]
}

func (b *InMemoryBackend) Pull(ctx context.Context, from uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	held := b.balances[from]
	if held.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: %s holds %s, pull of %s requested", ErrInsufficientFunds, from, held, amount)
	}
	b.balances[from] = held.Sub(amount)
	received := amount.Sub(amount.Mul(b.TransferFee))
	return received, nil
}

func (b *InMemoryBackend) Push(ctx context.Context, to uuid.UUID, amount decimal.Decimal) error {
	b.balances[to] = b.balances[to].Add(amount)
	return nil
}

// ExternalBackend is for deployments where collateral custody lives outside
// this service: pulls and pushes are assumed settled by the custodian and
// always succeed for the requested amount. The vault's held balance still
// tracks net flow, so the market's solvency accounting is unaffected.
type ExternalBackend struct{}

func NewExternalBackend() *ExternalBackend {
	return &ExternalBackend{}
}

func (*ExternalBackend) Pull(ctx context.Context, from uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}

func (*ExternalBackend) Push(ctx context.Context, to uuid.UUID, amount decimal.Decimal) error {
	return nil
}
