package archivist

import "context"

type txKey struct{}

// WithTx attaches a backend transaction handle to ctx. Stores that support
// transactions run their statements on it instead of the connection pool.
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction handle attached to ctx, if any.
func TxFrom(ctx context.Context) (any, bool) {
	tx := ctx.Value(txKey{})
	if tx == nil {
		return nil, false
	}
	return tx, true
}

// WithoutTx masks any transaction attached to ctx so writes made with the
// returned context commit immediately and are visible to other replicas.
func WithoutTx(ctx context.Context) context.Context {
	if _, ok := TxFrom(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, nil)
}
