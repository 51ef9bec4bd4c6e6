package ingestion

import (
	"context"
	"errors"
	"log"

	"OptionLadder/internal/market"
	"OptionLadder/internal/observability"
)

// Dispatcher drains the command channel, converts commands into engine calls
// and drives the ACK/NAK decision. Terminal rejections (bad arguments, wrong
// phase, slippage) are ACKed so JetStream stops redelivering them; transient
// failures are NAKed for retry.
type Dispatcher struct {
	eng     *market.Engine
	cmdChan <-chan RawCommand
	dedup   *Dedup
	metrics *observability.Metrics
}

func NewDispatcher(eng *market.Engine, cmdChan <-chan RawCommand, dedupCapacity int, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		eng:     eng,
		cmdChan: cmdChan,
		dedup:   NewDedup(dedupCapacity),
		metrics: metrics,
	}
}

// Run processes commands until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.cmdChan:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		log.Printf("WARN: dropping malformed command on %s: %v", raw.Subject, err)
		if d.metrics != nil {
			d.metrics.CommandsMalformed.Inc()
		}
		raw.Ack()
		return
	}
	if d.metrics != nil {
		d.metrics.CommandsReceived.WithLabelValues(cmd.Type.String()).Inc()
	}

	if d.dedup.Contains(cmd.ID) {
		if d.metrics != nil {
			d.metrics.CommandsDuplicate.Inc()
		}
		raw.Ack()
		return
	}

	err = d.apply(market.WithCommandID(ctx, cmd.ID), cmd)
	switch {
	case err == nil:
		d.dedup.Mark(cmd.ID)
		raw.Ack()
	case transient(err):
		log.Printf("WARN: command %s (%s) failed transiently, NAK: %v", cmd.ID, cmd.Type, err)
		raw.Nak()
	default:
		// terminal rejection: the command itself is invalid in this
		// state; redelivery would fail identically
		log.Printf("INFO: command %s (%s) rejected: %v", cmd.ID, cmd.Type, err)
		d.dedup.Mark(cmd.ID)
		raw.Ack()
	}
}

func (d *Dispatcher) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandBuy:
		_, err := d.eng.Buy(ctx, cmd.Account, cmd.IsLong, cmd.StrikeIndex, cmd.Quantity, cmd.Limit)
		return err
	case CommandSell:
		_, err := d.eng.Sell(ctx, cmd.Account, cmd.IsLong, cmd.StrikeIndex, cmd.Quantity, cmd.Limit)
		return err
	case CommandDeposit:
		_, err := d.eng.Deposit(ctx, cmd.Account, cmd.Quantity, cmd.Limit)
		return err
	case CommandWithdraw:
		_, err := d.eng.Withdraw(ctx, cmd.Account, cmd.Quantity, cmd.Limit)
		return err
	case CommandSettle:
		_, err := d.eng.Settle(ctx, cmd.Account)
		return err
	default:
		return errors.New("unreachable command type")
	}
}

// transient reports whether a failure is worth redelivering. An oracle
// without a price yet is the main case: the price feed may simply not have
// caught up with expiry.
func transient(err error) bool {
	return errors.Is(err, market.ErrInvalidPrice) || errors.Is(err, context.DeadlineExceeded)
}
