// Package token provides an in-memory fungible-unit ledger. The market uses
// one ledger per (strike, direction) position token and one for LP shares.
package token

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance is returned by Burn when the account holds fewer
// units than requested.
var ErrInsufficientBalance = errors.New("token: insufficient balance")

// Ledger tracks balances and total supply for a single fungible unit.
// It is not safe for concurrent use: the market engine serializes every
// mutation behind its own lock, which is the only mutation path.
type Ledger struct {
	symbol   string
	balances map[uuid.UUID]decimal.Decimal
	supply   decimal.Decimal
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:   symbol,
		balances: make(map[uuid.UUID]decimal.Decimal),
		supply:   decimal.Zero,
	}
}

// Symbol returns the ledger's display identifier.
func (l *Ledger) Symbol() string {
	return l.symbol
}

// Mint credits qty units to account. qty must be positive.
func (l *Ledger) Mint(account uuid.UUID, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return fmt.Errorf("token: mint amount must be positive, got %s", qty)
	}
	l.balances[account] = l.balances[account].Add(qty)
	l.supply = l.supply.Add(qty)
	return nil
}

// Burn debits qty units from account. Fails with ErrInsufficientBalance if
// the account holds less than qty; no partial burn occurs.
func (l *Ledger) Burn(account uuid.UUID, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return fmt.Errorf("token: burn amount must be positive, got %s", qty)
	}
	held := l.balances[account]
	if held.LessThan(qty) {
		return fmt.Errorf("%w: %s holds %s %s, burn of %s requested",
			ErrInsufficientBalance, account, held, l.symbol, qty)
	}
	l.balances[account] = held.Sub(qty)
	l.supply = l.supply.Sub(qty)
	return nil
}

// TotalSupply returns the total outstanding units.
func (l *Ledger) TotalSupply() decimal.Decimal {
	return l.supply
}

// BalanceOf returns account's balance (zero for unknown accounts).
func (l *Ledger) BalanceOf(account uuid.UUID) decimal.Decimal {
	return l.balances[account]
}
