package catalog

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// legalTransactionTransitions encodes the Transaction state machine from spec.md §4.8.
var legalTransactionTransitions = map[TransactionState]map[TransactionState]bool{
	TxCreated:  {TxPrepared: true, TxAborted: true},
	TxPrepared: {TxCommitted: true, TxAborted: true, TxRolledBack: true},
}

// RecordTransaction inserts a new Transaction row in the created state.
func (c *Catalog) RecordTransaction(id, sessionID string) error {
	row := TransactionRow{
		ID:        id,
		State:     TxCreated,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.db.Create(&row).Error; err != nil {
		return newError(KindIo, "record_transaction", err)
	}
	return nil
}

// UpdateTransactionState applies a transition, rejecting any not permitted
// by the Transaction state machine.
func (c *Catalog) UpdateTransactionState(txID string, newState TransactionState) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		var row TransactionRow
		if err := tx.Where("id = ?", txID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "update_transaction_state", err)
			}
			return newError(KindIo, "update_transaction_state", err)
		}

		allowed := legalTransactionTransitions[row.State]
		if !allowed[newState] {
			return newError(KindIntegrityViolation, "update_transaction_state",
				&transactionTransitionError{from: row.State, to: newState})
		}

		return tx.Model(&row).Updates(map[string]any{
			"state":      newState,
			"updated_at": time.Now(),
		}).Error
	})
}

// NonTerminalTransactions returns every Transaction not in a terminal state,
// used by CheckpointManager's startup recovery scan (spec.md §4.10).
func (c *Catalog) NonTerminalTransactions() ([]TransactionRow, error) {
	var rows []TransactionRow
	err := c.db.Where("state IN ?", []TransactionState{TxCreated, TxPrepared}).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, newError(KindIo, "non_terminal_transactions", err)
	}
	return rows, nil
}

// OperationsForTransaction returns every Operation belonging to txID, in
// submission order, so rollback can replay them in reverse.
func (c *Catalog) OperationsForTransaction(txID string) ([]OperationRow, error) {
	var rows []OperationRow
	err := c.db.Where("transaction_id = ?", txID).Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, newError(KindIo, "operations_for_transaction", err)
	}
	return rows, nil
}

type transactionTransitionError struct {
	from TransactionState
	to   TransactionState
}

func (e *transactionTransitionError) Error() string {
	return "illegal transaction transition from " + string(e.from) + " to " + string(e.to)
}
