package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/rpcprof/internal/rpcprofutil"
	"github.com/peterbourgon/rpcprof/rpcproflog"
)

type decodeConfig struct {
	*rootConfig

	output  string
	maxLine int
}

func (cfg *decodeConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'o',
		LongName:    "output",
		Value:       ffval.NewEnum(&cfg.output, "text", "ndjson", "prettyjson"),
		Usage:       "output format: text, ndjson, prettyjson",
		Placeholder: "FORMAT",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "max-line",
		Value:    ffval.NewValueDefault(&cfg.maxLine, 4*1024*1024),
		Usage:    "max length of a single input line, in bytes",
	})
}

func (cfg *decodeConfig) Exec(ctx context.Context, args []string) error {
	var (
		r       = rpcproflog.NewReassembler()
		s       = bufio.NewScanner(cfg.stdin)
		lines   = 0
		skipped = 0
		bytes   = 0
	)

	s.Buffer(make([]byte, 0, 64*1024), cfg.maxLine)

	for s.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		lines++
		bytes += len(s.Bytes())

		c, err := rpcproflog.DecodeLine(s.Bytes())
		switch {
		case errors.Is(err, rpcproflog.ErrNotProfile):
			skipped++
			continue
		case err != nil:
			cfg.logger.Warn().Int("line", lines).Err(err).Msg("skipping invalid profile line")
			continue
		}

		res, err := r.Add(c)
		if err != nil {
			cfg.logger.Warn().Int("line", lines).Err(err).Msg("skipping chunk")
			continue
		}

		if res == nil {
			cfg.logger.Debug().Str("id", c.ID).Int("chunk", c.Index).Int("chunks", c.Count).Msg("waiting for more chunks")
			continue
		}

		if err := cfg.print(*res); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	incomplete := r.Flush()
	for _, res := range incomplete {
		if err := cfg.print(res); err != nil {
			return err
		}
	}

	cfg.logger.Info().
		Int("lines", lines).
		Int("skipped", skipped).
		Str("read", rpcprofutil.HumanizeBytes(bytes)).
		Int("incomplete", len(incomplete)).
		Msg("done")

	return nil
}

type decodedProfile struct {
	ID       string   `json:"id"`
	Overhead *int64   `json:"overhead,omitempty"`
	ExecTime *int64   `json:"exec_time,omitempty"`
	Calls    any      `json:"calls"`
	Issues   []string `json:"issues,omitempty"`
}

func (cfg *decodeConfig) print(res rpcproflog.Reassembled) error {
	switch cfg.output {
	case "ndjson", "prettyjson":
		dp := decodedProfile{
			ID:     res.ID,
			Calls:  res.Profile.Calls,
			Issues: res.Issues,
		}
		if !res.Profile.Fragment {
			dp.Overhead, dp.ExecTime = &res.Profile.OverheadMillis, &res.Profile.ExecMillis
		}
		enc := json.NewEncoder(cfg.stdout)
		if cfg.output == "prettyjson" {
			enc.SetIndent("", "    ")
		}
		return enc.Encode(dp)

	default:
		return writeText(cfg.stdout, res)
	}
}

func writeText(w io.Writer, res rpcproflog.Reassembled) error {
	var sb strings.Builder

	p := res.Profile
	if p.Fragment {
		fmt.Fprintf(&sb, "%s calls=%d\n", res.ID, len(p.Calls))
	} else {
		fmt.Fprintf(&sb, "%s exec=%s overhead=%s calls=%d\n", res.ID, rpcprofutil.HumanizeMillis(p.ExecMillis), rpcprofutil.HumanizeMillis(p.OverheadMillis), len(p.Calls))
	}

	for _, issue := range res.Issues {
		fmt.Fprintf(&sb, "  ! %s\n", issue)
	}

	for _, c := range p.Calls {
		duration := "open"
		if c.Finished {
			duration = rpcprofutil.HumanizeMillis(c.Duration)
		}
		fmt.Fprintf(&sb, "  +%-8s %-8s %s %s\n", rpcprofutil.HumanizeMillis(c.Offset), duration, c.Service, c.Method)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
