package rpcproflog

import (
	"context"
	"fmt"

	"github.com/peterbourgon/rpcprof"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProfileMessage is the message of every log line produced by an emitter.
const ProfileMessage = "PROFILE"

const (
	// DefaultPlainMaxCalls is the max number of calls per plain log line.
	DefaultPlainMaxCalls = 100

	// DefaultCompressedMaxCalls is the max number of calls per compressed log
	// line.
	DefaultCompressedMaxCalls = 800
)

// Toggle is a boolean setting which can change at runtime.
type Toggle interface {
	Get(ctx context.Context) bool
}

// Fixed is a toggle that never changes.
type Fixed bool

// Get implements Toggle.
func (f Fixed) Get(context.Context) bool { return bool(f) }

// EmitterConfig captures the parameters of an emitter.
type EmitterConfig struct {
	// Logger receives one info-level line per profile chunk. By default, the
	// global zerolog logger is used.
	Logger *zerolog.Logger

	// Plain selects the encoding of each emitted profile: plain when true,
	// compressed when false. By default, always compressed.
	Plain Toggle

	// PlainMaxCalls is the max number of calls per plain log line. By default,
	// DefaultPlainMaxCalls.
	PlainMaxCalls int

	// CompressedMaxCalls is the max number of calls per compressed log line.
	// By default, DefaultCompressedMaxCalls.
	CompressedMaxCalls int
}

func (cfg *EmitterConfig) sanitize() {
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	if cfg.Plain == nil {
		cfg.Plain = Fixed(false)
	}
	if cfg.PlainMaxCalls <= 0 {
		cfg.PlainMaxCalls = DefaultPlainMaxCalls
	}
	if cfg.CompressedMaxCalls <= 0 {
		cfg.CompressedMaxCalls = DefaultCompressedMaxCalls
	}
}

// Emitter writes profiles as log lines. Each profile is chunked according to
// its encoding, and each chunk is written as a separate line with the message
// ProfileMessage, and the fields id, chunk, chunks, encoding, and profile.
type Emitter struct {
	logger        zerolog.Logger
	plain         Toggle
	plainMax      int
	compressedMax int
}

// NewEmitter returns a new emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	cfg.sanitize()
	return &Emitter{
		logger:        *cfg.Logger,
		plain:         cfg.Plain,
		plainMax:      cfg.PlainMaxCalls,
		compressedMax: cfg.CompressedMaxCalls,
	}
}

// NewDefaultEmitter returns a new emitter with a default config.
func NewDefaultEmitter() *Emitter {
	return NewEmitter(EmitterConfig{})
}

// Emit the profile identified by id.
func (e *Emitter) Emit(ctx context.Context, id string, p rpcprof.Profile) error {
	enc, max := Compressed, e.compressedMax
	if e.plain.Get(ctx) {
		enc, max = Plain, e.plainMax
	}

	chunks := rpcprof.Chunk(p, max)
	for i, c := range chunks {
		payload, err := Encode(enc, c)
		if err != nil {
			return fmt.Errorf("encode chunk %d/%d: %w", i+1, len(chunks), err)
		}

		ev := e.logger.Info().
			Str("id", id).
			Int("chunk", i).
			Int("chunks", len(chunks)).
			Str("encoding", string(enc))

		switch enc {
		case Plain:
			ev = ev.RawJSON("profile", payload)
		default:
			ev = ev.Bytes("profile", payload)
		}

		ev.Msg(ProfileMessage)
	}

	return nil
}
