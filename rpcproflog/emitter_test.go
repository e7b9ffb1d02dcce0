package rpcproflog_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/rpcprof"
	"github.com/peterbourgon/rpcprof/rpcproflog"
	"github.com/rs/zerolog"
)

func AssertEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func ExpectEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error %v", err)
	}
}

func makeProfile(n int) rpcprof.Profile {
	p := rpcprof.Profile{
		OverheadMillis: 2,
		ExecMillis:     310,
		Calls:          make([]rpcprof.Call, n),
	}
	for i := range p.Calls {
		p.Calls[i] = rpcprof.Call{
			Offset:   int64(i),
			Service:  "memcache",
			Method:   fmt.Sprintf("Get%d", i%4),
			Duration: int64(i % 3),
			Finished: true,
		}
	}
	return p
}

func emitLines(t *testing.T, plain bool, p rpcprof.Profile) []string {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Timestamp().Logger()
	emitter := rpcproflog.NewEmitter(rpcproflog.EmitterConfig{
		Logger: &logger,
		Plain:  rpcproflog.Fixed(plain),
	})

	AssertNoError(t, emitter.Emit(context.Background(), "01H0REQUEST", p))

	var lines []string
	s := bufio.NewScanner(&buf)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	AssertNoError(t, s.Err())
	return lines
}

func TestEmitterChunkSizes(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		plain    bool
		calls    int
		want     int
		encoding string
	}{
		{plain: true, calls: 0, want: 1, encoding: "plain"},
		{plain: true, calls: 100, want: 1, encoding: "plain"},
		{plain: true, calls: 250, want: 3, encoding: "plain"},
		{plain: false, calls: 250, want: 1, encoding: "zlib"},
		{plain: false, calls: 800, want: 1, encoding: "zlib"},
		{plain: false, calls: 1601, want: 3, encoding: "zlib"},
	} {
		testcase := testcase
		t.Run(fmt.Sprintf("plain=%v calls=%d", testcase.plain, testcase.calls), func(t *testing.T) {
			t.Parallel()

			lines := emitLines(t, testcase.plain, makeProfile(testcase.calls))
			AssertEqual(t, testcase.want, len(lines))

			for i, line := range lines {
				var fields struct {
					Level    string `json:"level"`
					Message  string `json:"message"`
					ID       string `json:"id"`
					Chunk    int    `json:"chunk"`
					Chunks   int    `json:"chunks"`
					Encoding string `json:"encoding"`
				}
				AssertNoError(t, json.Unmarshal([]byte(line), &fields))
				ExpectEqual(t, "info", fields.Level)
				ExpectEqual(t, "PROFILE", fields.Message)
				ExpectEqual(t, "01H0REQUEST", fields.ID)
				ExpectEqual(t, i, fields.Chunk)
				ExpectEqual(t, testcase.want, fields.Chunks)
				ExpectEqual(t, testcase.encoding, fields.Encoding)
			}
		})
	}
}

func TestEmitterPlainIsReadable(t *testing.T) {
	t.Parallel()

	lines := emitLines(t, true, makeProfile(1))
	AssertEqual(t, 1, len(lines))
	ExpectEqual(t, true, strings.Contains(lines[0], `"profile":{"overhead":2,"exec_time":310,"calls":[{"offset":0,"service":"memcache","call":"Get0","duration":0}]}`))
}

func TestEmitterRoundTrip(t *testing.T) {
	t.Parallel()

	for _, plain := range []bool{true, false} {
		plain := plain
		t.Run(fmt.Sprintf("plain=%v", plain), func(t *testing.T) {
			t.Parallel()

			want := makeProfile(1234)
			lines := emitLines(t, plain, want)

			r := rpcproflog.NewReassembler()
			var res *rpcproflog.Reassembled
			for i, line := range lines {
				c, err := rpcproflog.DecodeLine([]byte(line))
				AssertNoError(t, err)

				res, err = r.Add(c)
				AssertNoError(t, err)
				if i < len(lines)-1 && res != nil {
					t.Fatalf("reassembled after chunk %d of %d", i+1, len(lines))
				}
			}

			if res == nil {
				t.Fatalf("not reassembled after %d lines", len(lines))
			}
			ExpectEqual(t, "01H0REQUEST", res.ID)
			ExpectEqual(t, 0, len(res.Issues))
			ExpectEqual(t, 0, r.Pending())
			if !cmp.Equal(want, res.Profile) {
				t.Fatal(cmp.Diff(want, res.Profile))
			}
		})
	}
}

type countingToggle struct{ n int }

func (c *countingToggle) Get(context.Context) bool { c.n++; return c.n%2 == 1 }

func TestEmitterToggle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	toggle := &countingToggle{}
	emitter := rpcproflog.NewEmitter(rpcproflog.EmitterConfig{Logger: &logger, Plain: toggle})

	ctx := context.Background()
	AssertNoError(t, emitter.Emit(ctx, "a", makeProfile(1)))
	AssertNoError(t, emitter.Emit(ctx, "b", makeProfile(1)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	AssertEqual(t, 2, len(lines))
	ExpectEqual(t, true, strings.Contains(lines[0], `"encoding":"plain"`))
	ExpectEqual(t, true, strings.Contains(lines[1], `"encoding":"zlib"`))
}
