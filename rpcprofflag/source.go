// Package rpcprofflag provides runtime settings for profile emission, backed by
// a simple key/value flag store.
package rpcprofflag

import "context"

// PlainKey is the flag which, when true, selects plain encoding for emitted
// profiles.
const PlainKey = "rpcprof_use-plaintext"

// Source is a store of boolean flags.
type Source interface {
	Lookup(ctx context.Context, key string) (bool, error)
}

// Static is a source where every flag has the same value.
type Static bool

var _ Source = Static(false)

// Lookup implements Source.
func (s Static) Lookup(context.Context, string) (bool, error) { return bool(s), nil }
