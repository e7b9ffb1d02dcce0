// Package ezprof provides an easy-to-use API for recording and emitting RPC
// profiles, with package-level defaults. Profiles are written to stderr as
// compressed log lines, unless the plain toggle says otherwise.
package ezprof

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/peterbourgon/rpcprof"
	"github.com/peterbourgon/rpcprof/rpcprofflag"
	"github.com/peterbourgon/rpcprof/rpcprofhttp"
	"github.com/peterbourgon/rpcprof/rpcproflog"
	"github.com/rs/zerolog"
)

// defaults is the package-level state behind every function in this package.
// The emitter is rebuilt whenever the output changes, and the plain toggle is
// read on every emission.
type defaults struct {
	mtx     sync.Mutex
	logger  zerolog.Logger
	plain   rpcproflog.Toggle
	emitter *rpcproflog.Emitter
}

var std = newDefaults(os.Stderr)

var (
	_ rpcproflog.Toggle   = (*defaults)(nil)
	_ rpcprofhttp.Emitter = (*defaults)(nil)
)

func newDefaults(w io.Writer) *defaults {
	d := &defaults{plain: rpcproflog.Fixed(false)}
	d.setOutput(w)
	return d
}

func (d *defaults) setOutput(w io.Writer) {
	logger := zerolog.New(w).With().Timestamp().Logger()
	emitter := rpcproflog.NewEmitter(rpcproflog.EmitterConfig{
		Logger: &logger,
		Plain:  d,
	})

	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.logger, d.emitter = logger, emitter
}

func (d *defaults) setPlain(src rpcprofflag.Source) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if src == nil {
		d.plain = rpcproflog.Fixed(false)
		return
	}

	logger := d.logger
	d.plain = rpcprofflag.NewCached(rpcprofflag.CachedConfig{
		Source: src,
		Key:    rpcprofflag.PlainKey,
		Logger: &logger,
	})
}

// Get implements rpcproflog.Toggle, so that the emitter always consults the
// current plain toggle.
func (d *defaults) Get(ctx context.Context) bool {
	d.mtx.Lock()
	plain := d.plain
	d.mtx.Unlock()
	return plain.Get(ctx)
}

// Emit implements rpcprofhttp.Emitter via the current emitter.
func (d *defaults) Emit(ctx context.Context, id string, p rpcprof.Profile) error {
	d.mtx.Lock()
	emitter := d.emitter
	d.mtx.Unlock()
	return emitter.Emit(ctx, id, p)
}

// Emitter returns the default emitter. It always writes to the current output.
func Emitter() rpcprofhttp.Emitter {
	return std
}

// SetOutput changes where the default emitter writes profiles. By default,
// profiles are written to stderr.
func SetOutput(w io.Writer) {
	std.setOutput(w)
}

// SetPlain makes the default emitter read the plain-encoding flag from src,
// caching its value for the default refresh interval. A nil src restores the
// default of always compressing.
func SetPlain(src rpcprofflag.Source) {
	std.setPlain(src)
}

// Middleware records the RPCs of each request, and writes the resulting profile
// via the default emitter.
func Middleware() func(http.Handler) http.Handler {
	return rpcprofhttp.Middleware(std)
}

// Transport wraps base, so that every outbound request is reported to the
// recorder in the request context. A nil base means http.DefaultTransport.
func Transport(base http.RoundTripper) http.RoundTripper {
	return &rpcprofhttp.Transport{Base: base}
}

// Client returns an HTTP client using Transport with the default base.
func Client() *http.Client {
	return rpcprofhttp.NewClient(nil)
}

// Track records a call in the recorder from the context, and returns a function
// which records its finish. See [rpcprof.Track].
func Track(ctx context.Context, service, method string) (finish func()) {
	return rpcprof.Track(ctx, service, method)
}
