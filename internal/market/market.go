// Package market implements an automated market maker for a ladder of
// European options sharing one underlying and one expiry. Pricing follows
// the liquidity-sensitive LMSR with the LP share supply as the liquidity
// parameter; settlement replaces the scoring rule with the exact payoff at
// the oracle price.
//
// The engine is the single mutator of all market state. Every state-changing
// call runs under one mutex, applies all-or-nothing, and emits exactly one
// tape record on success. Reads take the read lock only.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"OptionLadder/internal/observability"
	"OptionLadder/internal/oracle"
	"OptionLadder/internal/pricing"
	"OptionLadder/internal/tape"
	"OptionLadder/internal/token"
	"OptionLadder/internal/vault"
)

// Clock abstracts wall-clock time so phase transitions are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Config holds the parameters fixed at market creation. Expiry, balance cap,
// dispute window, oracle and admin are adjustable afterwards through the
// admin surface; everything else is immutable.
type Config struct {
	// Asset is the collateral asset identifier: the underlying for call
	// markets, the quote asset for put markets.
	Asset string

	// Strikes must be strictly increasing and positive. The ladder has
	// one long and one short token per strike.
	Strikes []decimal.Decimal

	Expiry time.Time
	IsPut  bool

	// FeeRate in [0,1), charged on buys only and credited to the pool.
	FeeRate decimal.Decimal

	// BalanceCap limits total held collateral. Zero means unbounded.
	BalanceCap decimal.Decimal

	// DisputeWindow is anchored at expiry: the admin may correct the
	// settlement price until expiry + DisputeWindow.
	DisputeWindow time.Duration

	// MaxPriceCorrections bounds dispute corrections after settlement.
	MaxPriceCorrections int

	// MinSeedShares, when positive, is the minimum share count of the
	// bootstrap deposit. Zero disables the check.
	MinSeedShares decimal.Decimal

	Admin uuid.UUID
}

func (c Config) validate(now time.Time) error {
	if c.Asset == "" {
		return fmt.Errorf("%w: empty collateral asset", ErrInvalidArgument)
	}
	if len(c.Strikes) == 0 {
		return fmt.Errorf("%w: empty strike ladder", ErrInvalidArgument)
	}
	prev := decimal.Zero
	for i, k := range c.Strikes {
		if k.LessThanOrEqual(prev) {
			return fmt.Errorf("%w: strikes must be positive and strictly increasing, got %s at index %d",
				ErrInvalidArgument, k, i)
		}
		prev = k
	}
	if !c.Expiry.After(now) {
		return fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidArgument, c.Expiry)
	}
	if c.FeeRate.Sign() < 0 || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee rate must be in [0,1), got %s", ErrInvalidArgument, c.FeeRate)
	}
	if c.BalanceCap.Sign() < 0 {
		return fmt.Errorf("%w: balance cap must be non-negative, got %s", ErrInvalidArgument, c.BalanceCap)
	}
	if c.DisputeWindow < 0 {
		return fmt.Errorf("%w: dispute window must be non-negative", ErrInvalidArgument)
	}
	if c.MaxPriceCorrections < 0 {
		return fmt.Errorf("%w: max price corrections must be non-negative", ErrInvalidArgument)
	}
	if c.MinSeedShares.Sign() < 0 {
		return fmt.Errorf("%w: min seed shares must be non-negative", ErrInvalidArgument)
	}
	if c.Admin == uuid.Nil {
		return fmt.Errorf("%w: admin account required", ErrInvalidArgument)
	}
	return nil
}

// Deps are the engine's collaborators. Vault is required; Clock defaults to
// the system clock; Oracle may be swapped later via SetOracle; Tape and
// Metrics are optional.
type Deps struct {
	Clock   Clock
	Oracle  oracle.Source
	Vault   *vault.Vault
	Tape    chan<- tape.Record
	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// StartSequence resumes tape numbering after a restart; records are
	// assigned StartSequence+1 onward.
	StartSequence int64
}

// Engine is the deterministic market core. One mutex guards all state; the
// pricing evaluation it caches is re-derivable at any time from supplies,
// the settled latch and the settlement price.
type Engine struct {
	mu sync.RWMutex

	asset   string
	strikes []decimal.Decimal
	isPut   bool
	feeRate decimal.Decimal

	// admin-adjustable
	expiry        time.Time
	balanceCap    decimal.Decimal
	disputeWindow time.Duration
	admin         uuid.UUID
	oracleSrc     oracle.Source

	longs    []*token.Ledger
	shorts   []*token.Ledger
	lpShares *token.Ledger

	maxCorrections int
	minSeedShares  decimal.Decimal

	paused          bool
	settled         bool
	settlementPrice decimal.Decimal
	corrections     int

	// cachedCost is the pricing evaluation after the last state change;
	// poolEquity is the held collateral attributable to LPs. Together
	// they account for the vault balance.
	cachedCost decimal.Decimal
	poolEquity decimal.Decimal

	seq    int64
	tapeCh chan<- tape.Record

	pricer  pricing.Engine
	clock   Clock
	vault   *vault.Vault
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New validates the config and builds an engine with empty supplies.
func New(cfg Config, deps Deps) (*Engine, error) {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	if err := cfg.validate(clock.Now()); err != nil {
		return nil, err
	}
	if deps.Vault == nil {
		return nil, fmt.Errorf("%w: vault required", ErrInvalidArgument)
	}

	kind := "C"
	if cfg.IsPut {
		kind = "P"
	}
	longs := make([]*token.Ledger, len(cfg.Strikes))
	shorts := make([]*token.Ledger, len(cfg.Strikes))
	for i, k := range cfg.Strikes {
		longs[i] = token.NewLedger(fmt.Sprintf("%s-%s%s-L", cfg.Asset, kind, k))
		shorts[i] = token.NewLedger(fmt.Sprintf("%s-%s%s-S", cfg.Asset, kind, k))
	}

	strikes := make([]decimal.Decimal, len(cfg.Strikes))
	copy(strikes, cfg.Strikes)

	return &Engine{
		asset:           cfg.Asset,
		strikes:         strikes,
		isPut:           cfg.IsPut,
		feeRate:         cfg.FeeRate,
		expiry:          cfg.Expiry,
		balanceCap:      cfg.BalanceCap,
		disputeWindow:   cfg.DisputeWindow,
		admin:           cfg.Admin,
		oracleSrc:       deps.Oracle,
		longs:           longs,
		shorts:          shorts,
		lpShares:        token.NewLedger(fmt.Sprintf("%s-%s-LP", cfg.Asset, kind)),
		maxCorrections:  cfg.MaxPriceCorrections,
		minSeedShares:   cfg.MinSeedShares,
		settlementPrice: decimal.Zero,
		cachedCost:      decimal.Zero,
		poolEquity:      decimal.Zero,
		seq:             deps.StartSequence,
		tapeCh:          deps.Tape,
		clock:           clock,
		vault:           deps.Vault,
		log:             deps.Logger.With().Str("component", "market").Logger(),
		metrics:         deps.Metrics,
	}, nil
}

type commandIDKey struct{}

// WithCommandID tags the context with the ingestion command ID so tape
// records carry it. Direct library calls leave it nil.
func WithCommandID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

func commandIDFrom(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(commandIDKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// supplies copies the per-strike long and short supplies. Caller holds a lock.
func (e *Engine) suppliesLocked() (longs, shorts []decimal.Decimal) {
	longs = make([]decimal.Decimal, len(e.strikes))
	shorts = make([]decimal.Decimal, len(e.strikes))
	for i := range e.strikes {
		longs[i] = e.longs[i].TotalSupply()
		shorts[i] = e.shorts[i].TotalSupply()
	}
	return longs, shorts
}

// currentCostLocked evaluates the pricing function for the present state:
// LS-LMSR before settlement, exact payoff after.
func (e *Engine) currentCostLocked() (decimal.Decimal, error) {
	longs, shorts := e.suppliesLocked()
	if e.settled {
		return e.pricer.Payoff(e.strikes, e.settlementPrice, e.isPut, longs, shorts)
	}
	return e.pricer.Cost(e.strikes, e.isPut, longs, shorts, e.lpShares.TotalSupply())
}

// --- Reads ---

// Asset returns the collateral asset identifier.
func (e *Engine) Asset() string { return e.asset }

// Strikes returns a copy of the strike ladder. The ladder is immutable
// after construction, so no lock is taken; Snapshot calls this while
// holding the engine lock.
func (e *Engine) Strikes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(e.strikes))
	copy(out, e.strikes)
	return out
}

// IsPut reports whether this is a put ladder.
func (e *Engine) IsPut() bool { return e.isPut }

// Expiry returns the current expiry time.
func (e *Engine) Expiry() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expiry
}

// CurrentCost re-evaluates the pricing function. It equals CachedCost after
// every state-changing call.
func (e *Engine) CurrentCost() (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentCostLocked()
}

// CachedCost returns the cost cached by the last state change.
func (e *Engine) CachedCost() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cachedCost
}

// PoolEquity returns the collateral attributable to LPs.
func (e *Engine) PoolEquity() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.poolEquity
}

// LPShareSupply returns outstanding LP shares, which doubles as the LMSR
// liquidity parameter.
func (e *Engine) LPShareSupply() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lpShares.TotalSupply()
}

// LPBalanceOf returns an account's LP share balance.
func (e *Engine) LPBalanceOf(account uuid.UUID) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lpShares.BalanceOf(account)
}

// PositionOf returns an account's position token balance at a strike.
func (e *Engine) PositionOf(account uuid.UUID, isLong bool, strikeIdx int) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if strikeIdx < 0 || strikeIdx >= len(e.strikes) {
		return decimal.Zero, fmt.Errorf("%w: strike index %d out of range", ErrInvalidArgument, strikeIdx)
	}
	if isLong {
		return e.longs[strikeIdx].BalanceOf(account), nil
	}
	return e.shorts[strikeIdx].BalanceOf(account), nil
}

// Supplies returns copies of the per-strike long and short supplies.
func (e *Engine) Supplies() (longs, shorts []decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.suppliesLocked()
}

// CollateralBalance returns the vault's held collateral.
func (e *Engine) CollateralBalance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.Balance()
}

// SettlementPrice returns the settlement price and whether settle has run.
func (e *Engine) SettlementPrice() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settlementPrice, e.settled
}

// Paused reports whether non-admin operations are suspended.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Admin returns the current admin account.
func (e *Engine) Admin() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// Snapshot is a point-in-time view of the market for the query API.
type Snapshot struct {
	Asset           string            `json:"asset"`
	Strikes         []decimal.Decimal `json:"strikes"`
	IsPut           bool              `json:"is_put"`
	FeeRate         decimal.Decimal   `json:"fee_rate"`
	Expiry          time.Time         `json:"expiry"`
	DisputeWindow   time.Duration     `json:"dispute_window_ns"`
	Phase           string            `json:"phase"`
	Paused          bool              `json:"paused"`
	Settled         bool              `json:"settled"`
	SettlementPrice decimal.Decimal   `json:"settlement_price"`
	LongSupplies    []decimal.Decimal `json:"long_supplies"`
	ShortSupplies   []decimal.Decimal `json:"short_supplies"`
	LPShareSupply   decimal.Decimal   `json:"lp_share_supply"`
	CachedCost      decimal.Decimal   `json:"cached_cost"`
	PoolEquity      decimal.Decimal   `json:"pool_equity"`
	CollateralHeld  decimal.Decimal   `json:"collateral_held"`
	TapeSequence    int64             `json:"tape_sequence"`
}

// Snapshot captures the full market state under one read lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	longs, shorts := e.suppliesLocked()
	return Snapshot{
		Asset:           e.asset,
		Strikes:         e.Strikes(),
		IsPut:           e.isPut,
		FeeRate:         e.feeRate,
		Expiry:          e.expiry,
		DisputeWindow:   e.disputeWindow,
		Phase:           e.phaseLocked(e.clock.Now()).String(),
		Paused:          e.paused,
		Settled:         e.settled,
		SettlementPrice: e.settlementPrice,
		LongSupplies:    longs,
		ShortSupplies:   shorts,
		LPShareSupply:   e.lpShares.TotalSupply(),
		CachedCost:      e.cachedCost,
		PoolEquity:      e.poolEquity,
		CollateralHeld:  e.vault.Balance(),
		TapeSequence:    e.seq,
	}
}
