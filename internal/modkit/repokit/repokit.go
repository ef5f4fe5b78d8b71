// Package repokit binds repository implementations to a store seam
package repokit

import "paydisco/internal/platform/store"

// Queryer is the SQL surface repos are bound to
type Queryer = store.RowQuerier

// TxRunner can run a function inside a transaction
type TxRunner = store.TxRunner

// Binder binds a repo implementation to a Queryer
type Binder[T any] interface {
	Bind(Queryer) T
}

// BindFunc adapts a function to Binder
type BindFunc[T any] func(Queryer) T

// Bind calls f
func (f BindFunc[T]) Bind(q Queryer) T { return f(q) }

// MustBind binds q, panicking on a nil seam
func MustBind[T any](b Binder[T], q Queryer) T {
	if q == nil {
		panic("repokit: nil Queryer")
	}
	return b.Bind(q)
}
