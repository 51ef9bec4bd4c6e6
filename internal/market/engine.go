package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"OptionLadder/internal/oracle"
	"OptionLadder/internal/tape"
	"OptionLadder/internal/token"
	"OptionLadder/internal/vault"
)

// invariantEpsilon absorbs rounding from the fixed-precision exp/ln legs
// when checking held >= cachedCost + poolEquity.
var invariantEpsilon = decimal.New(1, -12)

// Buy mints qty position tokens at strikeIdx for account and pulls the
// marginal collateral plus fee. maxIn bounds the total pull; the call fails
// with ErrSlippageExceeded above it and no state changes.
func (e *Engine) Buy(ctx context.Context, account uuid.UUID, isLong bool, strikeIdx int, qty, maxIn decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	amountIn, err := e.buyLocked(ctx, account, isLong, strikeIdx, qty, maxIn)
	e.finishLocked("buy", start, err)
	return amountIn, err
}

func (e *Engine) buyLocked(ctx context.Context, account uuid.UUID, isLong bool, strikeIdx int, qty, maxIn decimal.Decimal) (decimal.Decimal, error) {
	if err := e.checkTradeArgs(strikeIdx, qty); err != nil {
		return decimal.Zero, err
	}
	if err := e.admitLocked(account, PhaseOpen); err != nil {
		return decimal.Zero, err
	}
	if e.lpShares.TotalSupply().IsZero() {
		return decimal.Zero, ErrNoLiquidity
	}

	ledger := e.positionLedger(isLong, strikeIdx)
	if err := ledger.Mint(account, qty); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	committed := false
	defer func() {
		if !committed {
			// unwind the mint; the lock makes this unobservable
			if rbErr := ledger.Burn(account, qty); rbErr != nil {
				e.log.Error().Err(rbErr).Msg("buy rollback failed")
			}
		}
	}()

	fee := qty.Mul(e.feeRate)
	if e.isPut {
		fee = fee.Mul(e.strikes[strikeIdx])
	}

	newCost, err := e.currentCostLocked()
	if err != nil {
		return decimal.Zero, err
	}
	amountIn := newCost.Sub(e.cachedCost).Add(fee)
	if amountIn.Sign() <= 0 {
		return decimal.Zero, ErrZeroAmount
	}
	if amountIn.GreaterThan(maxIn) {
		return decimal.Zero, fmt.Errorf("%w: need %s, max %s", ErrSlippageExceeded, amountIn, maxIn)
	}
	if err := e.pullLocked(ctx, account, amountIn); err != nil {
		return decimal.Zero, err
	}

	e.poolEquity = e.poolEquity.Add(fee)
	e.cachedCost = newCost
	committed = true

	e.emitLocked(ctx, tape.Record{
		Type:        tape.RecordTypeBuy,
		Account:     account,
		IsLong:      isLong,
		StrikeIndex: strikeIdx,
		Quantity:    qty,
		Amount:      amountIn,
		Fee:         fee,
		NewSupply:   ledger.TotalSupply(),
	})
	return amountIn, nil
}

// Sell burns qty position tokens from account and pushes the marginal
// collateral out. Admissible while Open and again once Settled, where the
// pricing function is the exact payoff; the tape labels the latter Redeem.
// minOut bounds the payout from below.
func (e *Engine) Sell(ctx context.Context, account uuid.UUID, isLong bool, strikeIdx int, qty, minOut decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	amountOut, err := e.sellLocked(ctx, account, isLong, strikeIdx, qty, minOut)
	e.finishLocked("sell", start, err)
	return amountOut, err
}

func (e *Engine) sellLocked(ctx context.Context, account uuid.UUID, isLong bool, strikeIdx int, qty, minOut decimal.Decimal) (decimal.Decimal, error) {
	if err := e.checkTradeArgs(strikeIdx, qty); err != nil {
		return decimal.Zero, err
	}
	if err := e.admitLocked(account, PhaseOpen, PhaseSettled); err != nil {
		return decimal.Zero, err
	}
	if !e.settled && e.lpShares.TotalSupply().IsZero() {
		return decimal.Zero, ErrNoLiquidity
	}

	ledger := e.positionLedger(isLong, strikeIdx)
	if err := ledger.Burn(account, qty); err != nil {
		return decimal.Zero, err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := ledger.Mint(account, qty); rbErr != nil {
				e.log.Error().Err(rbErr).Msg("sell rollback failed")
			}
		}
	}()

	newCost, err := e.currentCostLocked()
	if err != nil {
		return decimal.Zero, err
	}
	amountOut := e.cachedCost.Sub(newCost)
	if amountOut.Sign() <= 0 {
		return decimal.Zero, ErrZeroAmount
	}
	if amountOut.LessThan(minOut) {
		return decimal.Zero, fmt.Errorf("%w: got %s, min %s", ErrSlippageExceeded, amountOut, minOut)
	}
	if err := e.vault.TransferOut(ctx, account, amountOut); err != nil {
		return decimal.Zero, err
	}

	e.cachedCost = newCost
	committed = true

	recordType := tape.RecordTypeSell
	if e.settled {
		recordType = tape.RecordTypeRedeem
	}
	e.emitLocked(ctx, tape.Record{
		Type:        recordType,
		Account:     account,
		IsLong:      isLong,
		StrikeIndex: strikeIdx,
		Quantity:    qty,
		Amount:      amountOut,
		NewSupply:   ledger.TotalSupply(),
	})
	return amountOut, nil
}

// Deposit mints sharesOut LP shares for account. The cost of liquidity is
// the pro-rata claim on pool equity plus the cost increase caused by the
// larger liquidity parameter. The bootstrap deposit pays only the latter.
func (e *Engine) Deposit(ctx context.Context, account uuid.UUID, sharesOut, maxIn decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	amountIn, err := e.depositLocked(ctx, account, sharesOut, maxIn)
	e.finishLocked("deposit", start, err)
	return amountIn, err
}

func (e *Engine) depositLocked(ctx context.Context, account uuid.UUID, sharesOut, maxIn decimal.Decimal) (decimal.Decimal, error) {
	if sharesOut.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: shares must be positive, got %s", ErrInvalidArgument, sharesOut)
	}
	if err := e.admitLocked(account, PhaseOpen); err != nil {
		return decimal.Zero, err
	}

	supply := e.lpShares.TotalSupply()
	poolAmountIn := decimal.Zero
	if supply.IsZero() {
		if e.minSeedShares.Sign() > 0 && sharesOut.LessThan(e.minSeedShares) {
			return decimal.Zero, fmt.Errorf("%w: bootstrap deposit of %s below minimum %s",
				ErrInvalidArgument, sharesOut, e.minSeedShares)
		}
	} else {
		poolAmountIn = e.poolEquity.Mul(sharesOut).Div(supply)
	}

	if err := e.lpShares.Mint(account, sharesOut); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := e.lpShares.Burn(account, sharesOut); rbErr != nil {
				e.log.Error().Err(rbErr).Msg("deposit rollback failed")
			}
		}
	}()

	newCost, err := e.currentCostLocked()
	if err != nil {
		return decimal.Zero, err
	}
	amountIn := poolAmountIn.Add(newCost.Sub(e.cachedCost))
	if amountIn.Sign() <= 0 {
		return decimal.Zero, ErrZeroAmount
	}
	if amountIn.GreaterThan(maxIn) {
		return decimal.Zero, fmt.Errorf("%w: need %s, max %s", ErrSlippageExceeded, amountIn, maxIn)
	}
	if err := e.pullLocked(ctx, account, amountIn); err != nil {
		return decimal.Zero, err
	}

	e.poolEquity = e.poolEquity.Add(poolAmountIn)
	e.cachedCost = newCost
	committed = true

	e.emitLocked(ctx, tape.Record{
		Type:      tape.RecordTypeDeposit,
		Account:   account,
		Quantity:  sharesOut,
		Amount:    amountIn,
		NewSupply: e.lpShares.TotalSupply(),
	})
	return amountIn, nil
}

// Withdraw burns sharesIn LP shares from account and pushes out the pro-rata
// pool equity plus the cost decrease from the smaller liquidity parameter.
// Before settlement the last LP cannot exit while positions are outstanding.
func (e *Engine) Withdraw(ctx context.Context, account uuid.UUID, sharesIn, minOut decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	amountOut, err := e.withdrawLocked(ctx, account, sharesIn, minOut)
	e.finishLocked("withdraw", start, err)
	return amountOut, err
}

func (e *Engine) withdrawLocked(ctx context.Context, account uuid.UUID, sharesIn, minOut decimal.Decimal) (decimal.Decimal, error) {
	if sharesIn.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: shares must be positive, got %s", ErrInvalidArgument, sharesIn)
	}
	if err := e.admitLocked(account, PhaseOpen, PhaseSettled); err != nil {
		return decimal.Zero, err
	}
	supply := e.lpShares.TotalSupply()
	if supply.IsZero() {
		return decimal.Zero, ErrNoLiquidity
	}
	if !e.settled && sharesIn.Equal(supply) && e.hasOpenPositionsLocked() {
		// an empty pool cannot price the outstanding positions
		return decimal.Zero, fmt.Errorf("%w: cannot withdraw all shares with open positions", ErrNoLiquidity)
	}

	poolAmountOut := e.poolEquity.Mul(sharesIn).Div(supply)

	if err := e.lpShares.Burn(account, sharesIn); err != nil {
		return decimal.Zero, err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := e.lpShares.Mint(account, sharesIn); rbErr != nil {
				e.log.Error().Err(rbErr).Msg("withdraw rollback failed")
			}
		}
	}()

	newCost, err := e.currentCostLocked()
	if err != nil {
		return decimal.Zero, err
	}
	amountOut := poolAmountOut.Add(e.cachedCost.Sub(newCost))
	if amountOut.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("market: negative withdrawal amount %s", amountOut)
	}
	if amountOut.LessThan(minOut) {
		return decimal.Zero, fmt.Errorf("%w: got %s, min %s", ErrSlippageExceeded, amountOut, minOut)
	}
	if err := e.vault.TransferOut(ctx, account, amountOut); err != nil {
		return decimal.Zero, err
	}

	e.poolEquity = e.poolEquity.Sub(poolAmountOut)
	e.cachedCost = newCost
	committed = true

	e.emitLocked(ctx, tape.Record{
		Type:      tape.RecordTypeWithdraw,
		Account:   account,
		Quantity:  sharesIn,
		Amount:    amountOut,
		NewSupply: e.lpShares.TotalSupply(),
	})
	return amountOut, nil
}

// Settle latches the settlement price from the oracle and switches the
// pricing function to the exact payoff. Anyone may call it, once, at or
// after expiry. Collateral above the payoff becomes pool equity.
func (e *Engine) Settle(ctx context.Context, caller uuid.UUID) (decimal.Decimal, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.settleLocked(ctx, caller)
	e.finishLocked("settle", start, err)
	return price, err
}

func (e *Engine) settleLocked(ctx context.Context, caller uuid.UUID) (decimal.Decimal, error) {
	if e.settled {
		return decimal.Zero, ErrAlreadySettled
	}
	if phase := e.phaseLocked(e.clock.Now()); phase != PhaseExpiredUnsettled {
		return decimal.Zero, fmt.Errorf("%w: settle in phase %s", ErrWrongPhase, phase)
	}
	if e.oracleSrc == nil {
		return decimal.Zero, fmt.Errorf("%w: no oracle configured", ErrInvalidPrice)
	}
	price, err := e.oracleSrc.Price(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: oracle returned %s", ErrInvalidPrice, price)
	}

	longs, shorts := e.suppliesLocked()
	payoff, err := e.pricer.Payoff(e.strikes, price, e.isPut, longs, shorts)
	if err != nil {
		return decimal.Zero, err
	}

	e.settled = true
	e.settlementPrice = price
	e.cachedCost = payoff
	e.poolEquity = e.vault.Balance().Sub(payoff)

	e.emitLocked(ctx, tape.Record{
		Type:            tape.RecordTypeSettle,
		Account:         caller,
		SettlementPrice: price,
	})
	return price, nil
}

// DisputeCorrection lets the admin overwrite the settlement price during the
// dispute window, at most MaxPriceCorrections times. Payoff cost and pool
// equity are recomputed exactly as in Settle.
func (e *Engine) DisputeCorrection(ctx context.Context, caller uuid.UUID, newPrice decimal.Decimal) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.disputeLocked(ctx, caller, newPrice)
	e.finishLocked("dispute", start, err)
	return err
}

func (e *Engine) disputeLocked(ctx context.Context, caller uuid.UUID, newPrice decimal.Decimal) error {
	if caller != e.admin {
		return ErrUnauthorized
	}
	if phase := e.phaseLocked(e.clock.Now()); phase != PhaseDisputing {
		return fmt.Errorf("%w: dispute in phase %s", ErrWrongPhase, phase)
	}
	if e.corrections >= e.maxCorrections {
		return fmt.Errorf("%w: correction limit %d reached", ErrWrongPhase, e.maxCorrections)
	}
	if newPrice.Sign() <= 0 {
		return fmt.Errorf("%w: corrected price %s", ErrInvalidPrice, newPrice)
	}

	longs, shorts := e.suppliesLocked()
	payoff, err := e.pricer.Payoff(e.strikes, newPrice, e.isPut, longs, shorts)
	if err != nil {
		return err
	}

	e.settlementPrice = newPrice
	e.cachedCost = payoff
	e.poolEquity = e.vault.Balance().Sub(payoff)
	e.corrections++

	e.emitLocked(ctx, tape.Record{
		Type:            tape.RecordTypeDispute,
		Account:         caller,
		SettlementPrice: newPrice,
	})
	return nil
}

// --- Admin surface ---

func (e *Engine) requireAdmin(caller uuid.UUID) error {
	if caller != e.admin {
		return ErrUnauthorized
	}
	return nil
}

// Pause suspends non-admin state changes. Admin calls bypass the pause but
// never phase checks.
func (e *Engine) Pause(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.paused = true
	e.log.Warn().Msg("market paused")
	return nil
}

// Unpause resumes non-admin state changes.
func (e *Engine) Unpause(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.paused = false
	e.log.Info().Msg("market unpaused")
	return nil
}

// SetOracle swaps the settlement price source. Allowed until settle runs.
func (e *Engine) SetOracle(caller uuid.UUID, src oracle.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if e.settled {
		return fmt.Errorf("%w: oracle change after settlement", ErrWrongPhase)
	}
	e.oracleSrc = src
	return nil
}

// SetExpiry moves the expiry. Allowed until settle runs; the new expiry must
// be in the future.
func (e *Engine) SetExpiry(caller uuid.UUID, expiry time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if e.settled {
		return fmt.Errorf("%w: expiry change after settlement", ErrWrongPhase)
	}
	if !expiry.After(e.clock.Now()) {
		return fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidArgument, expiry)
	}
	e.expiry = expiry
	e.log.Info().Time("expiry", expiry).Msg("expiry updated")
	return nil
}

// SetBalanceCap adjusts the held-collateral cap. Zero removes it. Lowering
// the cap below the current balance only blocks further inflows.
func (e *Engine) SetBalanceCap(caller uuid.UUID, cap decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if cap.Sign() < 0 {
		return fmt.Errorf("%w: cap must be non-negative, got %s", ErrInvalidArgument, cap)
	}
	e.balanceCap = cap
	return nil
}

// SetDisputeWindow adjusts the dispute window. Allowed until settle runs.
func (e *Engine) SetDisputeWindow(caller uuid.UUID, window time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if e.settled {
		return fmt.Errorf("%w: dispute window change after settlement", ErrWrongPhase)
	}
	if window < 0 {
		return fmt.Errorf("%w: dispute window must be non-negative", ErrInvalidArgument)
	}
	e.disputeWindow = window
	return nil
}

// SetAdmin transfers admin rights.
func (e *Engine) SetAdmin(caller, newAdmin uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if newAdmin == uuid.Nil {
		return fmt.Errorf("%w: nil admin", ErrInvalidArgument)
	}
	e.admin = newAdmin
	e.log.Info().Str("admin", newAdmin.String()).Msg("admin transferred")
	return nil
}

// --- Internals ---

func (e *Engine) checkTradeArgs(strikeIdx int, qty decimal.Decimal) error {
	if strikeIdx < 0 || strikeIdx >= len(e.strikes) {
		return fmt.Errorf("%w: strike index %d out of range [0,%d)", ErrInvalidArgument, strikeIdx, len(e.strikes))
	}
	if qty.Sign() <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	return nil
}

// admitLocked enforces phase and pause rules. The admin bypasses the pause
// but never the phase check.
func (e *Engine) admitLocked(caller uuid.UUID, allowed ...Phase) error {
	phase := e.phaseLocked(e.clock.Now())
	ok := false
	for _, p := range allowed {
		if phase == p {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, phase)
	}
	if e.paused && caller != e.admin {
		return fmt.Errorf("%w: market is paused", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) positionLedger(isLong bool, strikeIdx int) *token.Ledger {
	if isLong {
		return e.longs[strikeIdx]
	}
	return e.shorts[strikeIdx]
}

func (e *Engine) hasOpenPositionsLocked() bool {
	for i := range e.strikes {
		if !e.longs[i].TotalSupply().IsZero() || !e.shorts[i].TotalSupply().IsZero() {
			return true
		}
	}
	return false
}

// pullLocked checks the balance cap against the prospective held balance,
// then pulls collateral. The cap check runs before the transfer so a
// rejected pull never moves funds.
func (e *Engine) pullLocked(ctx context.Context, from uuid.UUID, amount decimal.Decimal) error {
	if e.balanceCap.Sign() > 0 {
		if e.vault.Balance().Add(amount).GreaterThan(e.balanceCap) {
			return fmt.Errorf("%w: held %s + %s exceeds cap %s",
				ErrCapExceeded, e.vault.Balance(), amount, e.balanceCap)
		}
	}
	return e.vault.TransferIn(ctx, from, amount)
}

// emitLocked stamps and sends one tape record. The send blocks when the
// persist channel is full, backpressuring command processing.
func (e *Engine) emitLocked(ctx context.Context, rec tape.Record) {
	e.seq++
	rec.Sequence = e.seq
	rec.CommandID = commandIDFrom(ctx)
	rec.Timestamp = e.clock.Now()
	if e.tapeCh != nil {
		e.tapeCh <- rec
	}
	e.log.Info().
		Int64("seq", rec.Sequence).
		Str("type", rec.TypeName()).
		Str("account", rec.Account.String()).
		Str("amount", rec.Amount.String()).
		Msg("applied")
}

// finishLocked records metrics and runs the solvency check after an
// operation attempt.
func (e *Engine) finishLocked(op string, start time.Time, err error) {
	if e.metrics != nil {
		if err != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		} else {
			e.metrics.OpsApplied.WithLabelValues(op).Inc()
			e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			e.metrics.CachedCost.Set(toFloat(e.cachedCost))
			e.metrics.PoolEquity.Set(toFloat(e.poolEquity))
			e.metrics.CollateralHeld.Set(toFloat(e.vault.Balance()))
			e.metrics.LPShareSupply.Set(toFloat(e.lpShares.TotalSupply()))
			e.metrics.TapeSequence.Set(float64(e.seq))
		}
	}
	if err != nil {
		return
	}
	held := e.vault.Balance()
	want := e.cachedCost.Add(e.poolEquity)
	if held.Add(invariantEpsilon).LessThan(want) {
		if e.metrics != nil {
			e.metrics.InvariantBreach.Inc()
		}
		e.log.Error().
			Str("held", held.String()).
			Str("cost", e.cachedCost.String()).
			Str("equity", e.poolEquity.String()).
			Msg("solvency invariant violated")
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrNoLiquidity):
		return "no_liquidity"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, vault.ErrNonStandardTransfer):
		return "non_standard_transfer"
	case errors.Is(err, vault.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, token.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "internal"
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
