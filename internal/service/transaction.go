package service

import "context"

// TransactionManager wraps multiple repository operations in a single
// database transaction. If fn returns an error the transaction is rolled
// back, otherwise it is committed. Implementations must reuse an already
// open transaction found on the context, so services can compose without
// caring whether a caller holds one.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
