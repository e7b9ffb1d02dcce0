package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/rpcprof"
	"github.com/peterbourgon/rpcprof/rpcprofflag"
	"github.com/peterbourgon/rpcprof/rpcprofhttp"
	"github.com/peterbourgon/rpcprof/rpcproflog"
	"github.com/rs/zerolog"
)

type demoConfig struct {
	*rootConfig

	listenAddr string
	plain      bool
	requests   int
}

func (cfg *demoConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName: "listen-addr",
		Value:    ffval.NewValueDefault(&cfg.listenAddr, "localhost:8001"),
		Usage:    "HTTP listen address",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "plain",
		Value:    ffval.NewValue(&cfg.plain),
		Usage:    "emit plain profiles, ignored if --flags-db is set",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "requests",
		Value:    ffval.NewValue(&cfg.requests),
		Usage:    "if non-zero, make this many requests to /hello and exit",
	})
}

func (cfg *demoConfig) Exec(ctx context.Context, args []string) error {
	var toggle rpcproflog.Toggle = rpcproflog.Fixed(cfg.plain)
	if cfg.flagsDB != "" {
		flags, err := cfg.openFlags()
		if err != nil {
			return err
		}
		defer flags.Close()

		toggle = rpcprofflag.NewCached(rpcprofflag.CachedConfig{
			Source:  flags,
			Key:     rpcprofflag.PlainKey,
			Refresh: 10 * time.Second,
			Logger:  &cfg.logger,
		})
	}

	profileLogger := zerolog.New(cfg.stdout).With().Timestamp().Logger()
	emitter := rpcproflog.NewEmitter(rpcproflog.EmitterConfig{
		Logger: &profileLogger,
		Plain:  toggle,
	})

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	baseURL := "http://" + ln.Addr().String()
	cfg.logger.Info().Str("url", baseURL+"/hello").Msg("listening")

	app := &demoApp{
		baseURL: baseURL,
		client:  &http.Client{Transport: &rpcprofhttp.Transport{Service: func(*http.Request) string { return "backend" }}},
		cache:   &demoCache{},
	}

	router := mux.NewRouter()
	router.Use(loggerMiddleware(cfg.logger))
	router.Handle("/hello", rpcprofhttp.Middleware(emitter)(http.HandlerFunc(app.handleHello))).Methods("GET")
	router.HandleFunc("/backend/{op}", app.handleBackend).Methods("GET")

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g run.Group

	{
		g.Add(func() error {
			return server.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}

	if cfg.requests > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.makeRequests(ctx, baseURL+"/hello")
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err = g.Run()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (cfg *demoConfig) makeRequests(ctx context.Context, url string) error {
	for i := 0; i < cfg.requests; i++ {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %d/%d: %w", i+1, cfg.requests, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cfg.logger.Debug().Int("request", i+1).Int("status", resp.StatusCode).Msg("demo request complete")
	}
	return nil
}

//
//
//

func loggerMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(begin)).Msg("served")
		})
	}
}

type demoApp struct {
	baseURL string
	client  *http.Client
	cache   *demoCache
}

func (a *demoApp) handleHello(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := a.cache.Get(ctx, "greeting"); !ok {
		for _, op := range []string{"users", "greeting"} {
			if err := a.callBackend(ctx, op); err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
		}
		a.cache.Set(ctx, "greeting", "hello")
	}

	// Two concurrent calls to the same method, paired by handle.
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.cache.Get(ctx, "session")
	}()
	a.cache.Get(ctx, "session")
	<-done

	id := "none"
	if rec, ok := rpcprof.MaybeGet(ctx); ok {
		id = rec.ID()
	}
	fmt.Fprintf(w, "hello from %s\n", id)
}

func (a *demoApp) callBackend(ctx context.Context, op string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/backend/"+op, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend %s: %s", op, resp.Status)
	}
	return nil
}

func (a *demoApp) handleBackend(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]
	time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	fmt.Fprintf(w, "%s ok\n", op)
}

// demoCache simulates a remote cache, which randomly evicts entries.
type demoCache struct {
	values sync.Map
}

func (c *demoCache) Get(ctx context.Context, key string) (string, bool) {
	defer rpcprof.Track(ctx, "memcache", "Get")()
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	if rand.Intn(4) == 0 {
		c.values.Delete(key)
	}
	v, ok := c.values.Load(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (c *demoCache) Set(ctx context.Context, key, value string) {
	defer rpcprof.Track(ctx, "memcache", "Set")()
	c.values.Store(key, value)
}
