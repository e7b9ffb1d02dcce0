// Package rpcprof records the outbound calls made while serving a single
// request, and produces a compact profile of those calls once the request is
// done.
//
// The basic idea is to put a [Recorder] in the context of each request, and to
// have every outbound call (an HTTP request to a backend, a cache lookup, a
// database query) report when it starts and when it finishes. The recorder
// pairs those events into calls with an offset and a duration, even when the
// events race across goroutines, or arrive without a correlation handle. When
// the request is complete, the recorder is snapshotted into a [Profile], which
// can be split with [Chunk] into pieces small enough to be written as
// individual log lines.
//
// Profiles are scoped to exactly one request. There is no storage, sampling,
// or aggregation across requests, and no propagation across process
// boundaries. Anything like that belongs downstream, in whatever consumes the
// emitted log lines.
//
// Most applications should not use this package directly, and should instead
// use [github.com/peterbourgon/rpcprof/ezprof], which wires a recorder,
// middleware, and emitter together for common use cases.
package rpcprof
