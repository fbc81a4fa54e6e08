package gormstore

import (
	"context"

	"gorm.io/gorm"
)

type transactionKey struct{}

// WithTransaction attaches tx to ctx. Sessions given such a context run
// their statements on tx.
func WithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext returns the transaction attached to ctx.
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(transactionKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// conn returns the handle statements for ctx run on.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// InTransaction runs fn with a context carrying a transaction. When ctx
// already carries one, fn joins it. An error from fn rolls back.
func (s *Session) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTransaction(ctx, tx))
	})
}
