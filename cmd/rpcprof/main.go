// rpcprof is a CLI tool for running a demo of RPC profiling, decoding emitted
// profiles, and managing the flags which control emission.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	// Values from a .env file in the working directory are used as env vars,
	// but never override env vars which are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("rpcprof")
	rootConfig.register(rootFlags)

	rootCommand := &ff.Command{
		Name:      "rpcprof",
		ShortHelp: "record, emit, and decode per-request RPC profiles",
		Flags:     rootFlags,
	}

	// Config for `rpcprof demo`.
	demoConfig := &demoConfig{rootConfig: rootConfig}
	demoFlags := ff.NewFlagSet("demo").SetParent(rootFlags)
	demoConfig.register(demoFlags)
	demoCommand := &ff.Command{
		Name:      "demo",
		ShortHelp: "run an HTTP server which emits a profile for every request",
		LongHelp:  "Serve a small app whose /hello handler makes several RPCs, and write each request's profile to stdout.",
		Flags:     demoFlags,
		Exec:      demoConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, demoCommand)

	// Config for `rpcprof decode`.
	decodeConfig := &decodeConfig{rootConfig: rootConfig}
	decodeFlags := ff.NewFlagSet("decode").SetParent(rootFlags)
	decodeConfig.register(decodeFlags)
	decodeCommand := &ff.Command{
		Name:      "decode",
		ShortHelp: "decode profile log lines from stdin",
		LongHelp:  "Read log lines from stdin, reassemble chunked profiles, and print them. Other lines are ignored.",
		Flags:     decodeFlags,
		Exec:      decodeConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, decodeCommand)

	// Config for `rpcprof flag`.
	flagConfig := &flagConfig{rootConfig: rootConfig}
	flagFlags := ff.NewFlagSet("flag").SetParent(rootFlags)
	flagConfig.register(flagFlags)
	flagCommand := &ff.Command{
		Name:      "flag",
		ShortHelp: "print or set the plain encoding flag",
		LongHelp:  "Without --plain, print the current value of the plain encoding flag. With --plain, set it.",
		Flags:     flagFlags,
		Exec:      flagConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, flagCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("RPCPROF")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		var level zerolog.Level
		switch rootConfig.logLevel {
		case "n", "none":
			level = zerolog.Disabled
		case "w", "warn":
			level = zerolog.WarnLevel
		case "i", "info":
			level = zerolog.InfoLevel
		case "d", "debug":
			level = zerolog.DebugLevel
		default:
			return fmt.Errorf("invalid log level %q", rootConfig.logLevel)
		}
		rootConfig.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).
			Level(level).
			With().Timestamp().
			Logger()
	}

	rootConfig.logger.Debug().Str("flags_db", rootConfig.flagsDB).Msg("configured")

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
