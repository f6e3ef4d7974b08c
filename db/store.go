package db

import "context"

// Store is a hierarchical key-value namespace per teacher. Paths are
// "/"-separated; values are scalars (bool, string, numbers, time.Time) or
// maps of them. A nil value anywhere in a write deletes that subtree.
type Store interface {
	// Push stores value under a fresh child of parentPath and returns its id.
	Push(ctx context.Context, ns, parentPath string, value interface{}) (string, error)
	// Get returns the subtree at path as nested map[string]interface{} (or a
	// leaf), nil when nothing is stored there.
	Get(ctx context.Context, ns, path string) (interface{}, error)
	// Set replaces the subtree at path.
	Set(ctx context.Context, ns, path string, value interface{}) error
	// Update replaces each named child of path.
	Update(ctx context.Context, ns, path string, values map[string]interface{}) error
	// Remove deletes the subtree at path.
	Remove(ctx context.Context, ns, path string) error
	// MultiUpdate applies every path -> value pair in one atomic write.
	MultiUpdate(ctx context.Context, ns string, values map[string]interface{}) error
	// Transact runs fn against the namespace and commits the multi-path
	// update it returns (nil deletes, as in MultiUpdate) only if nothing
	// fn could have read changed meanwhile; otherwise fn runs again. An
	// error from fn aborts the write and is returned as is.
	Transact(ctx context.Context, ns string, fn TxFunc) error
	// Subscribe calls fn with the current value at path, then again after
	// every write touching it, until the Subscription is closed.
	Subscribe(ctx context.Context, ns, path string, fn func(value interface{})) (Subscription, error)
}

// GetFunc reads a subtree inside a transaction, like Store.Get.
type GetFunc func(path string) (interface{}, error)

// TxFunc computes a multi-path update from what it reads through get. It
// must not have side effects, since it may run more than once.
type TxFunc func(get GetFunc) (map[string]interface{}, error)

// Subscription is a live listener. Close detaches it; no callback runs after
// Close returns. Close must not be called from inside the callback.
type Subscription interface {
	Close() error
}

type nopSubscription struct{}

func (nopSubscription) Close() error { return nil }
