package rpcprof

import "context"

type recorderContextKey struct{}

var recorderContextVal recorderContextKey

// Put the given recorder into the context, and return a new context containing
// that recorder, as well as the recorder itself. If the context already
// contained a recorder, it becomes "shadowed" by the new recorder.
func Put(ctx context.Context, r *Recorder) (context.Context, *Recorder) {
	return context.WithValue(ctx, recorderContextVal, r), r
}

// MaybeGet returns the recorder in the context, if it exists, with true as the
// second return value. If not, a nil recorder is returned, with false as the
// second return value.
func MaybeGet(ctx context.Context) (*Recorder, bool) {
	r, ok := ctx.Value(recorderContextVal).(*Recorder)
	return r, ok && r != nil
}

// Get returns the recorder in the context as an observer, if it exists. If not,
// Discard is returned, so that instrumented code can report calls without
// checking whether the request is being recorded.
func Get(ctx context.Context) Observer {
	if r, ok := MaybeGet(ctx); ok {
		return r
	}
	return Discard
}

// Track records the start of a call in the observer from the context, and
// returns a function which records its finish. Each call gets a unique handle,
// so concurrent calls to the same service and method are paired correctly.
//
// Typical usage is as follows.
//
//	func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
//	    defer rpcprof.Track(ctx, "memcache", "Get")()
//	    ...
//	}
func Track(ctx context.Context, service, method string) (finish func()) {
	var (
		o      = Get(ctx)
		handle = new(trackHandle)
	)
	o.RecordStart(service, method, handle)
	return func() {
		o.RecordFinish(service, method, handle)
	}
}

// trackHandle must have a non-zero size, so that distinct allocations have
// distinct addresses.
type trackHandle struct{ _ byte }
