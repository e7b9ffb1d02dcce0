package rpcprof

import (
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/rpcprof/internal/rpcprofutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Recorder collects the RPC calls made during a single request. It's created
// when the request begins, fed start and finish events by instrumented code
// while the request is served, and read once via Snapshot when the request is
// done.
//
// A recorder is safe for concurrent use. Its overhead counts the time spent in
// RecordStart and RecordFinish, excluding time spent waiting for other callers.
// A nil recorder is not valid, and its methods panic.
type Recorder struct {
	id     string
	start  time.Time
	now    func() time.Time
	logger zerolog.Logger

	mtx      sync.Mutex
	end      time.Time
	overhead time.Duration
	calls    []recordedCall
	pending  map[any]int
}

type recordedCall struct {
	Call
	handle any // non-nil iff claimed, i.e. pending[handle] points to this call
}

var _ Observer = (*Recorder)(nil)

// RecorderConfig captures the optional parameters of a recorder.
type RecorderConfig struct {
	// ID uniquely identifies the recorder, and so the request, in emitted
	// profiles. By default, a new ULID is generated.
	ID string

	// Logger receives diagnostics about unexpected events, like a finish
	// without a matching start. By default, the global zerolog logger is used.
	Logger *zerolog.Logger

	// Now is the clock used for all measurements. By default, time.Now.
	Now func() time.Time
}

func (cfg *RecorderConfig) sanitize() {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ID == "" {
		cfg.ID = ulid.MustNew(ulid.Timestamp(cfg.Now()), recorderIDEntropy).String()
	}
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
}

var recorderIDEntropy = ulid.DefaultEntropy()

// NewRecorder returns a new recorder, started now.
func NewRecorder(cfg RecorderConfig) *Recorder {
	cfg.sanitize()

	start := cfg.Now()
	r := &Recorder{
		id:      cfg.ID,
		start:   start,
		now:     cfg.Now,
		logger:  cfg.Logger.With().Str("recorder", cfg.ID).Logger(),
		pending: map[any]int{},
	}
	r.overhead = cfg.Now().Sub(start)
	return r
}

// NewDefaultRecorder returns a new recorder with a default config.
func NewDefaultRecorder() *Recorder {
	return NewRecorder(RecorderConfig{})
}

// ID returns the unique ID of the recorder.
func (r *Recorder) ID() string {
	r.mustBeValid()
	return r.id // immutable
}

// Started returns the time the recorder was created.
func (r *Recorder) Started() time.Time {
	r.mustBeValid()
	return r.start // immutable
}

// RecordStart implements Observer. It records the start of a call to the given
// service and method. The handle is an optional correlation token, which must
// be comparable, and which should be passed to the corresponding RecordFinish.
// A nil handle means no token is available.
func (r *Recorder) RecordStart(service, method string, handle any) {
	r.mustBeValid()

	begin := r.now()
	handle = r.checkHandle(service, method, handle)

	call := recordedCall{
		Call: Call{
			Offset:  millis(begin.Sub(r.start)),
			Service: service,
			Method:  method,
		},
	}

	var reused bool

	pre := r.now().Sub(begin)
	r.mtx.Lock()
	locked := r.now()
	if handle != nil {
		if index, ok := r.pending[handle]; ok && index >= 0 && index < len(r.calls) {
			r.calls[index].handle = nil // the old call stays open, but unclaimed
			reused = true
		}
		r.pending[handle] = len(r.calls)
		call.handle = handle
	}
	r.calls = append(r.calls, call)
	r.overhead += pre + r.now().Sub(locked)
	r.mtx.Unlock()

	if reused {
		r.warn(service, method, "start with a handle that is already pending")
	}
}

// RecordFinish implements Observer. It records the finish of a call to the
// given service and method, and tries to match it to a previously started call.
//
// If the handle is pending, the call it refers to is matched. Otherwise, the
// most recently started open call with the same service and method is matched.
// If nothing matches, the finish is recorded as a new call with a duration of
// zero.
func (r *Recorder) RecordFinish(service, method string, handle any) {
	r.mustBeValid()

	begin := r.now()
	delta := millis(begin.Sub(r.start))
	handle = r.checkHandle(service, method, handle)

	pre := r.now().Sub(begin)
	r.mtx.Lock()
	locked := r.now()
	result := r.finishLocked(service, method, handle, delta)
	r.overhead += pre + r.now().Sub(locked)
	r.mtx.Unlock()

	switch result {
	case matchedHandle:
		// nominal
	case matchedName:
		r.logger.Debug().Str("service", service).Str("method", method).Msg("matched RPC finish without handle")
	case matchedStale:
		r.warn(service, method, "RPC finish with unknown handle, matched by service and method")
	case unmatchedStale:
		r.warn(service, method, "RPC finish with unknown handle, and without matching start")
	case unmatched:
		r.warn(service, method, "RPC finish without matching start")
	}
}

type finishResult int

const (
	matchedHandle finishResult = iota
	matchedName
	matchedStale
	unmatchedStale
	unmatched
)

func (r *Recorder) finishLocked(service, method string, handle any, delta int64) finishResult {
	if handle != nil {
		if index, ok := r.pending[handle]; ok {
			delete(r.pending, handle)
			if index >= 0 && index < len(r.calls) {
				r.calls[index].finish(delta)
				return matchedHandle
			}
		}

		// The handle is stale, or was never started. Calls claimed by other
		// handles belong to those handles, so they're not candidates.
		if r.matchLocked(service, method, delta, false) {
			return matchedStale
		}
		r.appendUnmatchedLocked(service, method, delta)
		return unmatchedStale
	}

	if r.matchLocked(service, method, delta, true) {
		return matchedName
	}
	r.appendUnmatchedLocked(service, method, delta)
	return unmatched
}

// matchLocked finishes the most recently started open call with the given
// service and method. If claimed is true, calls claimed by a handle are
// candidates, and a matched call's handle is released.
func (r *Recorder) matchLocked(service, method string, delta int64, claimed bool) bool {
	for i := len(r.calls) - 1; i >= 0; i-- {
		c := &r.calls[i]
		if c.Finished || c.Service != service || c.Method != method {
			continue
		}
		if c.handle != nil {
			if !claimed {
				continue
			}
			delete(r.pending, c.handle)
		}
		c.finish(delta)
		return true
	}
	return false
}

func (r *Recorder) appendUnmatchedLocked(service, method string, delta int64) {
	r.calls = append(r.calls, recordedCall{
		Call: Call{
			Offset:   delta,
			Service:  service,
			Method:   method,
			Duration: 0,
			Finished: true,
		},
	})
}

func (c *recordedCall) finish(delta int64) {
	c.Duration = delta - c.Offset
	c.Finished = true
	c.handle = nil
}

// Snapshot returns a profile of everything recorded so far. The exec time is
// measured up to the first call to Snapshot, so that subsequent snapshots are
// identical unless more calls are recorded in the meantime.
func (r *Recorder) Snapshot() Profile {
	r.mustBeValid()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.end.IsZero() {
		r.end = r.now()
	}

	calls := make([]Call, len(r.calls))
	for i := range r.calls {
		calls[i] = r.calls[i].Call
	}

	return Profile{
		OverheadMillis: millis(r.overhead),
		ExecMillis:     millis(r.end.Sub(r.start)),
		Calls:          calls,
	}
}

//
//
//

func (r *Recorder) mustBeValid() {
	if r == nil {
		panic("rpcprof: use of nil Recorder")
	}
}

// checkHandle returns the handle if it can be used as a map key, and nil
// otherwise.
func (r *Recorder) checkHandle(service, method string, handle any) any {
	if handle == nil {
		return nil
	}
	if t := reflect.TypeOf(handle); !t.Comparable() {
		r.logger.Warn().
			Str("service", service).
			Str("method", method).
			Str("handle_type", t.String()).
			Msg("ignoring handle which is not comparable")
		return nil
	}
	return handle
}

func (r *Recorder) warn(service, method, msg string) {
	r.logger.Warn().
		Str("service", service).
		Str("method", method).
		Str("caller", rpcprofutil.Callsite()).
		Msg(msg)
}

func millis(d time.Duration) int64 {
	return int64(d / time.Millisecond)
}
