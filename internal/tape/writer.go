package tape

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RecordWriter batch-inserts tape records into Postgres. Multi-row INSERT
// keeps the writer portable across drivers; the sequence conflict clause
// makes redelivered batches idempotent.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// DB exposes the handle for transaction management by the worker.
func (w *RecordWriter) DB() *sql.DB {
	return w.db
}

// WriteBatch inserts records within the given transaction.
func (w *RecordWriter) WriteBatch(ctx context.Context, tx *sql.Tx, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 12
	query := `INSERT INTO option_tape.records
		(sequence, record_type, command_id, account, is_long, strike_index,
		 quantity, amount, fee, new_supply, settlement_price, ts)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*cols)

	for i, r := range records {
		base := i * cols
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.Sequence, r.TypeName(), r.CommandID, r.Account,
			r.IsLong, r.StrikeIndex,
			r.Quantity.String(), r.Amount.String(), r.Fee.String(),
			r.NewSupply.String(), r.SettlementPrice.String(),
			r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, 0 when the tape is
// empty. Used at startup to resume the engine's sequence counter.
func (w *RecordWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM option_tape.records`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return seq.Int64, nil
}
