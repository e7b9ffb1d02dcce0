package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/rpcprof/rpcprofflag"
)

type flagConfig struct {
	*rootConfig

	plain string
}

func (cfg *flagConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "plain",
		Value:       ffval.NewEnum(&cfg.plain, "", "true", "false"),
		Usage:       "if set, emit profiles as plain JSON (true) or compressed (false)",
		Placeholder: "BOOL",
	})
}

func (cfg *flagConfig) Exec(ctx context.Context, args []string) error {
	flags, err := cfg.openFlags()
	if err != nil {
		return err
	}
	defer flags.Close()

	if cfg.plain != "" {
		value, err := strconv.ParseBool(cfg.plain)
		if err != nil {
			return fmt.Errorf("--plain: %w", err)
		}
		if err := flags.Set(ctx, rpcprofflag.PlainKey, value); err != nil {
			return err
		}
		cfg.logger.Info().Str("key", rpcprofflag.PlainKey).Bool("value", value).Msg("flag set")
	}

	value, err := flags.Lookup(ctx, rpcprofflag.PlainKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(cfg.stdout, "%s %v\n", rpcprofflag.PlainKey, value)
	return nil
}
