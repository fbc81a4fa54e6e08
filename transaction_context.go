package admin

import (
	"context"

	"github.com/nlstn/go-admin/internal/store/gormstore"
	"gorm.io/gorm"
)

// TransactionFromContext returns the transaction of the write operation the
// context belongs to. Lifecycle hooks and AfterUpdateFunc callbacks receive
// such a context and can run their own statements in the same transaction.
// Statements issued there are rolled back when the operation fails.
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	return gormstore.TransactionFromContext(ctx)
}

// WithTransaction returns a context carrying tx. Service operations called
// with it join tx instead of starting their own transaction.
func WithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return gormstore.WithTransaction(ctx, tx)
}
