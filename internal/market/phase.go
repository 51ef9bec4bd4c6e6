package market

import "time"

// Phase is the market's lifecycle state. It is never stored: it is a pure
// function of (current time, settled latch), re-evaluated on every call, so
// the open->expired transition needs no explicit trigger and cannot drift.
type Phase int32

const (
	// PhaseOpen: before expiry. Trading and liquidity operations allowed.
	PhaseOpen Phase = iota

	// PhaseExpiredUnsettled: at/after expiry, before settlement. Only
	// settle (and admin actions) are admissible.
	PhaseExpiredUnsettled

	// PhaseDisputing: settled, inside the dispute window. The admin may
	// still correct the settlement price; redemption and withdrawal wait.
	PhaseDisputing

	// PhaseSettled: settled and past the dispute window. Redemption-only
	// terminal state.
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "Open"
	case PhaseExpiredUnsettled:
		return "ExpiredUnsettled"
	case PhaseDisputing:
		return "Disputing"
	case PhaseSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// phaseLocked computes the phase at the given instant. Caller holds the lock.
func (e *Engine) phaseLocked(now time.Time) Phase {
	if !e.settled {
		if now.Before(e.expiry) {
			return PhaseOpen
		}
		return PhaseExpiredUnsettled
	}
	// dispute window is anchored at expiry, not at the settle call
	if now.Before(e.expiry.Add(e.disputeWindow)) {
		return PhaseDisputing
	}
	return PhaseSettled
}

// Phase returns the lifecycle phase at the engine clock's current time.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phaseLocked(e.clock.Now())
}
