// Package tape is the auditable record of everything the market did: one
// record per successful state-changing call, persisted to Postgres and
// published to NATS for downstream consumers.
package tape

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordType discriminates tape records.
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeBuy
	RecordTypeSell
	RecordTypeRedeem
	RecordTypeDeposit
	RecordTypeWithdraw
	RecordTypeSettle
	RecordTypeDispute
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeBuy:
		return "Buy"
	case RecordTypeSell:
		return "Sell"
	case RecordTypeRedeem:
		return "Redeem"
	case RecordTypeDeposit:
		return "Deposit"
	case RecordTypeWithdraw:
		return "Withdraw"
	case RecordTypeSettle:
		return "Settle"
	case RecordTypeDispute:
		return "Dispute"
	default:
		return "Unknown"
	}
}

// Record is one entry in the trade tape. Every successful state-changing
// call produces exactly one, carrying the actor, the economically relevant
// amounts, and the resulting supply or share total.
type Record struct {
	// Monotonic sequence assigned by the engine.
	Sequence int64 `json:"sequence"`

	Type RecordType `json:"-"`

	// Command ID from ingestion when the call arrived over NATS; the nil
	// UUID for direct library calls.
	CommandID uuid.UUID `json:"command_id"`

	// Actor: trader, LP, or settler.
	Account uuid.UUID `json:"account"`

	// Trade fields (Buy/Sell/Redeem).
	IsLong      bool `json:"is_long,omitempty"`
	StrikeIndex int  `json:"strike_index,omitempty"`

	// Quantity of position tokens traded, or LP shares minted/burned.
	Quantity decimal.Decimal `json:"quantity"`

	// Collateral moved: in for Buy/Deposit, out for Sell/Redeem/Withdraw.
	Amount decimal.Decimal `json:"amount"`

	// Fee credited to the pool (Buy only).
	Fee decimal.Decimal `json:"fee"`

	// Resulting total: position supply for trades, LP share supply for
	// deposits/withdrawals.
	NewSupply decimal.Decimal `json:"new_supply"`

	// Settlement price (Settle/Dispute only).
	SettlementPrice decimal.Decimal `json:"settlement_price,omitempty"`

	// Engine clock time at which the call was executed.
	Timestamp time.Time `json:"timestamp"`
}

// TypeName is exposed for JSON payloads and NATS subjects.
func (r Record) TypeName() string {
	return r.Type.String()
}
