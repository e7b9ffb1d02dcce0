package rpcprofhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/peterbourgon/rpcprof"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Emitter receives the profile of each request once it's complete. The ID
// identifies the request's recorder.
type Emitter interface {
	Emit(ctx context.Context, id string, p rpcprof.Profile) error
}

// MiddlewareConfig captures the parameters of a middleware.
type MiddlewareConfig struct {
	// Emitter receives every profile. Required.
	Emitter Emitter

	// Skip, if provided, is called for each request, and returning true means
	// the request is served without a recorder.
	Skip func(*http.Request) bool

	// NewRecorder, if provided, is used to construct the recorder for each
	// request. By default, a recorder is created with the request context's
	// zerolog logger, or the global logger if the context has none.
	NewRecorder func(*http.Request) *rpcprof.Recorder
}

func (cfg *MiddlewareConfig) sanitize() {
	if cfg.Emitter == nil {
		panic("rpcprofhttp: middleware requires an emitter")
	}
	if cfg.Skip == nil {
		cfg.Skip = func(*http.Request) bool { return false }
	}
	if cfg.NewRecorder == nil {
		cfg.NewRecorder = func(r *http.Request) *rpcprof.Recorder {
			return rpcprof.NewRecorder(rpcprof.RecorderConfig{
				Logger: contextLogger(r.Context()),
			})
		}
	}
}

// Middleware decorates an HTTP handler, recording the RPCs made while serving
// each request, and emitting the resulting profile when the handler returns.
// It's equivalent to NewMiddleware with a default config.
func Middleware(emitter Emitter) func(http.Handler) http.Handler {
	return NewMiddleware(MiddlewareConfig{Emitter: emitter})
}

// NewMiddleware decorates an HTTP handler, recording the RPCs made while
// serving each request, and emitting the resulting profile when the handler
// returns.
//
// The recorder is installed in the request context before the next handler is
// called, and is available to downstream code via [rpcprof.Get]. The profile is
// emitted even if the next handler panics, in which case the panic is
// re-raised afterwards. Failures to emit are logged, and never affect the
// response.
func NewMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	cfg.sanitize()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, rec := rpcprof.Put(r.Context(), cfg.NewRecorder(r))
			if rec == nil {
				next.ServeHTTP(w, r)
				return
			}

			iw := newInterceptor(w)
			defer func(begin time.Time) {
				emit(ctx, cfg.Emitter, rec, r, iw, time.Since(begin))
			}(time.Now())

			next.ServeHTTP(iw, r.WithContext(ctx))
		})
	}
}

// contextLogger returns the zerolog logger in the context, or nil if there
// isn't one. zerolog.Ctx returns a disabled logger in that case.
func contextLogger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return nil
}

func emit(ctx context.Context, emitter Emitter, rec *rpcprof.Recorder, r *http.Request, iw *interceptor, took time.Duration) {
	base := contextLogger(ctx)
	if base == nil {
		base = &log.Logger
	}
	logger := base.With().Str("recorder", rec.ID()).Logger()

	defer func() {
		if x := recover(); x != nil {
			logger.Error().Interface("panic", x).Msg("emit profile panicked")
		}
	}()

	p := rec.Snapshot()

	logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("code", iw.Code()).
		Int("bytes", iw.Written()).
		Dur("took", took).
		Int("calls", len(p.Calls)).
		Msg("request profiled")

	if err := emitter.Emit(ctx, rec.ID(), p); err != nil {
		logger.Error().Err(err).Msg("emit profile failed")
	}
}

//
//
//

type interceptor struct {
	http.ResponseWriter

	code int
	n    int
}

func newInterceptor(w http.ResponseWriter) *interceptor {
	return &interceptor{ResponseWriter: w}
}

func (i *interceptor) WriteHeader(code int) {
	if i.code == 0 {
		i.code = code
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *interceptor) Write(p []byte) (int, error) {
	n, err := i.ResponseWriter.Write(p)
	i.n += n
	return n, err
}

func (i *interceptor) Flush() {
	if f, ok := i.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (i *interceptor) Unwrap() http.ResponseWriter {
	return i.ResponseWriter
}

func (i *interceptor) Code() int {
	if i.code == 0 {
		return http.StatusOK
	}
	return i.code
}

func (i *interceptor) Written() int {
	return i.n
}
