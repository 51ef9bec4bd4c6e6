package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandType discriminates parsed commands.
type CommandType int32

const (
	CommandUnknown CommandType = iota
	CommandBuy
	CommandSell
	CommandDeposit
	CommandWithdraw
	CommandSettle
)

func (ct CommandType) String() string {
	switch ct {
	case CommandBuy:
		return "buy"
	case CommandSell:
		return "sell"
	case CommandDeposit:
		return "deposit"
	case CommandWithdraw:
		return "withdraw"
	case CommandSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Command is a validated, typed market command.
type Command struct {
	ID      uuid.UUID
	Type    CommandType
	Account uuid.UUID

	// Trade fields (buy/sell).
	IsLong      bool
	StrikeIndex int

	// Position quantity or LP share count.
	Quantity decimal.Decimal

	// Limit bounds the collateral moved: a maximum for buy and deposit,
	// a minimum for sell and withdraw.
	Limit decimal.Decimal
}

// commandJSON is the wire format shared by all command subjects. Producers
// use snake_case fields; amounts travel as decimal strings.
type commandJSON struct {
	CommandID   string `json:"command_id"`
	Account     string `json:"account"`
	IsLong      *bool  `json:"is_long,omitempty"`
	StrikeIndex *int   `json:"strike_index,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	Limit       string `json:"limit,omitempty"`
}

// ParseCommand decodes and validates one command message. The command type
// comes from the final subject token: options.cmd.buy, options.cmd.settle.
func ParseCommand(subject string, data []byte) (Command, error) {
	cmdType := typeFromSubject(subject)
	if cmdType == CommandUnknown {
		return Command{}, fmt.Errorf("unknown command subject: %s", subject)
	}

	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("parse %s: %w", cmdType, err)
	}

	id, err := uuid.Parse(j.CommandID)
	if err != nil {
		return Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return Command{}, fmt.Errorf("parse account: %w", err)
	}

	cmd := Command{ID: id, Type: cmdType, Account: account}
	if cmdType == CommandSettle {
		return cmd, nil
	}

	qty, err := decimal.NewFromString(j.Quantity)
	if err != nil {
		return Command{}, fmt.Errorf("parse quantity: %w", err)
	}
	if qty.Sign() <= 0 {
		return Command{}, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	cmd.Quantity = qty

	switch cmdType {
	case CommandBuy, CommandSell:
		if j.IsLong == nil {
			return Command{}, fmt.Errorf("%s requires is_long", cmdType)
		}
		if j.StrikeIndex == nil {
			return Command{}, fmt.Errorf("%s requires strike_index", cmdType)
		}
		cmd.IsLong = *j.IsLong
		cmd.StrikeIndex = *j.StrikeIndex
	}

	switch cmdType {
	case CommandBuy, CommandDeposit:
		// inbound legs must state how much the caller is willing to pay
		limit, err := decimal.NewFromString(j.Limit)
		if err != nil {
			return Command{}, fmt.Errorf("parse limit: %w", err)
		}
		if limit.Sign() <= 0 {
			return Command{}, fmt.Errorf("limit must be positive, got %s", limit)
		}
		cmd.Limit = limit
	case CommandSell, CommandWithdraw:
		// outbound minimum defaults to zero
		if j.Limit != "" {
			limit, err := decimal.NewFromString(j.Limit)
			if err != nil {
				return Command{}, fmt.Errorf("parse limit: %w", err)
			}
			if limit.Sign() < 0 {
				return Command{}, fmt.Errorf("limit must be non-negative, got %s", limit)
			}
			cmd.Limit = limit
		}
	}

	return cmd, nil
}

func typeFromSubject(subject string) CommandType {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return CommandUnknown
	}
	switch subject[idx+1:] {
	case "buy":
		return CommandBuy
	case "sell":
		return CommandSell
	case "deposit":
		return CommandDeposit
	case "withdraw":
		return CommandWithdraw
	case "settle":
		return CommandSettle
	default:
		return CommandUnknown
	}
}
