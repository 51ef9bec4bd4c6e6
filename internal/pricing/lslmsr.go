// Package pricing implements the LS-LMSR cost function and the terminal
// payoff function for a ladder of options sharing one expiry.
//
// All functions here are pure: cost and payoff are re-derivable at any time
// from supplies and fixed parameters. The market engine treats its cached
// cost strictly as a cache over these evaluations.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision used for the exp/ln legs of the log-sum-exp evaluation.
// 32 digits keeps the rounding error far below one base unit for any
// realistic supply magnitudes.
const evalPrecision = 32

// Engine evaluates LMSR cost and settlement payoff over a strike ladder.
// The zero value is ready to use.
type Engine struct{}

// Quantities derives the payoff-basket quantity vector (length numStrikes+1)
// from per-strike long/short supplies.
//
// Basket entry j represents the terminal-price bucket between strike j-1 and
// strike j. A call long at strike i pays out in every bucket above i, so it
// adds to entries i+1..N; a call short adds to entries 0..i. Puts mirror:
// a put long at strike i adds to entries 0..i, a put short to i+1..N.
func Quantities(numStrikes int, isPut bool, longSupplies, shortSupplies []decimal.Decimal) []decimal.Decimal {
	q := make([]decimal.Decimal, numStrikes+1)
	for j := range q {
		q[j] = decimal.Zero
	}
	for i := 0; i < numStrikes; i++ {
		lo, hi := longSupplies[i], shortSupplies[i]
		if isPut {
			lo, hi = hi, lo
		}
		// lo pays out above strike i, hi at or below it
		for j := i + 1; j <= numStrikes; j++ {
			q[j] = q[j].Add(lo)
		}
		for j := 0; j <= i; j++ {
			q[j] = q[j].Add(hi)
		}
	}
	return q
}

// Cost evaluates the pre-settlement LMSR cost of the outstanding basket with
// liquidity parameter b. Returns zero when b is zero (empty pool).
//
// Calls are collateralized in the underlying, so the raw cost is returned
// as-is. Puts are collateralized in the quote asset and the cost is scaled
// by the highest strike, which bounds the worst-case put payout.
//
// The cost is monotone non-decreasing in every individual supply and
// homogeneous of degree one in (quantities, b).
func (Engine) Cost(strikes []decimal.Decimal, isPut bool, longSupplies, shortSupplies []decimal.Decimal, b decimal.Decimal) (decimal.Decimal, error) {
	if err := checkLengths(strikes, longSupplies, shortSupplies); err != nil {
		return decimal.Zero, err
	}
	q := Quantities(len(strikes), isPut, longSupplies, shortSupplies)
	cost, err := lmsrCost(q, b)
	if err != nil {
		return decimal.Zero, err
	}
	if isPut {
		cost = cost.Mul(strikes[len(strikes)-1])
	}
	return cost, nil
}

// Payoff evaluates the post-settlement cost: the exact collateral owed to all
// outstanding positions at settlement price. No scoring-rule component
// remains once the price is known.
//
// Call payoffs are settled in the underlying, so per-unit values are divided
// by the settlement price. Put payoffs are settled in quote directly.
func (Engine) Payoff(strikes []decimal.Decimal, settlementPrice decimal.Decimal, isPut bool, longSupplies, shortSupplies []decimal.Decimal) (decimal.Decimal, error) {
	if err := checkLengths(strikes, longSupplies, shortSupplies); err != nil {
		return decimal.Zero, err
	}
	if settlementPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pricing: settlement price must be positive, got %s", settlementPrice)
	}

	total := decimal.Zero
	for i, strike := range strikes {
		var longUnit, shortUnit decimal.Decimal
		if isPut {
			// long put: K - p when p < K; short put: min(p, K)
			longUnit = decimal.Max(strike.Sub(settlementPrice), decimal.Zero)
			shortUnit = decimal.Min(settlementPrice, strike)
		} else {
			// long call: (p - K)/p when p > K; short call: min(p, K)/p
			longUnit = decimal.Max(settlementPrice.Sub(strike), decimal.Zero).Div(settlementPrice)
			shortUnit = decimal.Min(settlementPrice, strike).Div(settlementPrice)
		}
		total = total.Add(longSupplies[i].Mul(longUnit))
		total = total.Add(shortSupplies[i].Mul(shortUnit))
	}
	return total, nil
}

// lmsrCost computes m + b*ln(sum exp((q_j - m)/b)) with m = max(q).
// Subtracting the max keeps every exponent non-positive, so the Taylor
// expansion of exp converges quickly and never overflows.
func lmsrCost(q []decimal.Decimal, b decimal.Decimal) (decimal.Decimal, error) {
	if b.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("pricing: liquidity parameter must be non-negative, got %s", b)
	}
	if b.IsZero() {
		for _, x := range q {
			if !x.IsZero() {
				return decimal.Zero, fmt.Errorf("pricing: zero liquidity with outstanding quantity %s", x)
			}
		}
		return decimal.Zero, nil
	}

	mx := q[0]
	for _, x := range q[1:] {
		mx = decimal.Max(mx, x)
	}

	sum := decimal.Zero
	for _, x := range q {
		term, err := x.Sub(mx).Div(b).ExpTaylor(evalPrecision)
		if err != nil {
			return decimal.Zero, fmt.Errorf("pricing: exp: %w", err)
		}
		sum = sum.Add(term)
	}

	// sum >= 1 always (the max entry contributes exp(0)), so Ln is defined
	lnSum, err := sum.Ln(evalPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: ln: %w", err)
	}
	return mx.Add(b.Mul(lnSum)), nil
}

func checkLengths(strikes, longSupplies, shortSupplies []decimal.Decimal) error {
	if len(strikes) == 0 {
		return fmt.Errorf("pricing: empty strike ladder")
	}
	if len(longSupplies) != len(strikes) || len(shortSupplies) != len(strikes) {
		return fmt.Errorf("pricing: supply lengths (%d long, %d short) do not match %d strikes",
			len(longSupplies), len(shortSupplies), len(strikes))
	}
	return nil
}
