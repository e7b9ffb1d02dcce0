package main

import (
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/rpcprof/rpcprofflag"
	"github.com/rs/zerolog"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logLevel string
	flagsDB  string

	logger zerolog.Logger
}

func (cfg *rootConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log-level",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "warn", "w", "none", "n"),
		Usage:       "log level: i/info, d/debug, w/warn, n/none",
		Placeholder: "LEVEL",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "flags-db",
		Value:       ffval.NewValue(&cfg.flagsDB),
		Usage:       "path to the SQLite database of flags",
		Placeholder: "PATH",
	})
}

func (cfg *rootConfig) openFlags() (*rpcprofflag.SQLite, error) {
	if cfg.flagsDB == "" {
		return nil, fmt.Errorf("--flags-db is required")
	}
	return rpcprofflag.OpenSQLite(cfg.flagsDB)
}
