package worker

import (
	"context"

	"lumen.app/relay/core/db"
	"lumen.app/relay/internal/store"
)

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.DBTX) error {
		return fn(store.NewStores(q))
	})
}
