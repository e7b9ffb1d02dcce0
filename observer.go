package rpcprof

// Observer is the capability that instrumented code needs in order to report
// RPCs. Interception points, like an HTTP transport or a database driver
// wrapper, should call RecordStart before dispatching each call, and
// RecordFinish after it completes, successfully or not.
//
// The handle should be a comparable value which uniquely identifies the call,
// like a pointer to a request object, whenever one is available. Pass nil when
// there is no such value.
type Observer interface {
	RecordStart(service, method string, handle any)
	RecordFinish(service, method string, handle any)
}

// Discard is an observer that does nothing. It's returned by [Get] when no
// recorder is installed in the context.
var Discard Observer = discard{}

type discard struct{}

func (discard) RecordStart(service, method string, handle any)  { /* no-op */ }
func (discard) RecordFinish(service, method string, handle any) { /* no-op */ }
