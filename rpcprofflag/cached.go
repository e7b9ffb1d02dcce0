package rpcprofflag

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRefresh is how long a cached flag value is used before the source is
// checked again.
const DefaultRefresh = 10 * time.Minute

// CachedConfig captures the parameters of a cached flag.
type CachedConfig struct {
	// Source of the flag. Required.
	Source Source

	// Key of the flag in the source. By default, PlainKey.
	Key string

	// Refresh is how often the source is checked. By default, DefaultRefresh.
	Refresh time.Duration

	// Logger receives a warning whenever a source lookup fails. By default,
	// the global zerolog logger is used.
	Logger *zerolog.Logger

	// Now is used to tell when the cached value is stale. By default,
	// time.Now.
	Now func() time.Time
}

func (cfg *CachedConfig) sanitize() {
	if cfg.Source == nil {
		panic("rpcprofflag: cached flag requires a source")
	}
	if cfg.Key == "" {
		cfg.Key = PlainKey
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultRefresh
	}
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Cached is a single flag read from a source at most once per refresh
// interval. It satisfies rpcproflog.Toggle.
//
// If a lookup fails, the previous value is kept, and the source is checked
// again after another refresh interval. The value before the first successful
// lookup is false.
type Cached struct {
	source  Source
	key     string
	refresh time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mtx        sync.Mutex
	value      bool
	checked    bool
	refreshing bool
	lastCheck  time.Time
}

// NewCached returns a cached flag. The source isn't checked until the first
// call to Get.
func NewCached(cfg CachedConfig) *Cached {
	cfg.sanitize()
	return &Cached{
		source:  cfg.Source,
		key:     cfg.Key,
		refresh: cfg.Refresh,
		logger:  cfg.Logger.With().Str("flag", cfg.Key).Logger(),
		now:     cfg.Now,
	}
}

// Get returns the current value of the flag. At most one source lookup runs
// at a time; concurrent callers get the cached value while it's in flight.
func (c *Cached) Get(ctx context.Context) bool {
	c.mtx.Lock()
	now := c.now()
	if c.refreshing || (c.checked && now.Sub(c.lastCheck) < c.refresh) {
		defer c.mtx.Unlock()
		return c.value
	}
	c.refreshing = true
	c.mtx.Unlock()

	value, err := c.source.Lookup(ctx, c.key)

	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.refreshing = false
	c.checked, c.lastCheck = true, now

	if err != nil {
		c.logger.Warn().Err(err).Bool("value", c.value).Msg("flag lookup failed, keeping previous value")
		return c.value
	}

	c.value = value
	return c.value
}
