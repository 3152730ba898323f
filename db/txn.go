package db

import (
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/txn"
)

// Txn is the handle a Database.Transaction callback receives: a live
// transaction id plus access to every declared table through Table.
type Txn struct {
	db *Database
	t  *txn.Txn
}

// ID returns the transaction's id, mostly useful for logging.
func (tx *Txn) ID() int64 { return tx.t.ID }

// Table returns a proxy for name bound to this transaction: every call
// on it participates in tx rather than auto-committing on its own.
func (tx *Txn) Table(name string) (*TableHandle, error) {
	if _, ok := tx.db.tables[name]; !ok {
		return nil, &errors.TableNotFoundError{Name: name}
	}
	return &TableHandle{db: tx.db, name: name, txn: tx}, nil
}
