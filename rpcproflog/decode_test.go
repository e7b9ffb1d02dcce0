package rpcproflog_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/rpcprof"
	"github.com/peterbourgon/rpcprof/rpcproflog"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	want := makeProfile(20)
	want.Calls[3].Finished = false
	want.Calls[3].Duration = 0

	for _, enc := range []rpcproflog.Encoding{rpcproflog.Plain, rpcproflog.Compressed} {
		data, err := rpcproflog.Encode(enc, want)
		AssertNoError(t, err)

		have, err := rpcproflog.Decode(enc, data)
		AssertNoError(t, err)

		if !cmp.Equal(want, have) {
			t.Errorf("%s: %s", enc, cmp.Diff(want, have))
		}
	}

	if _, err := rpcproflog.Encode("rot13", want); err == nil {
		t.Errorf("Encode with unknown encoding: want error, have none")
	}
	if _, err := rpcproflog.Decode(rpcproflog.Compressed, []byte("not base64!")); err == nil {
		t.Errorf("Decode of invalid data: want error, have none")
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"plain", "zlib"} {
		enc, err := rpcproflog.ParseEncoding(s)
		AssertNoError(t, err)
		ExpectEqual(t, s, string(enc))
	}

	if _, err := rpcproflog.ParseEncoding("gzip"); err == nil {
		t.Errorf("want error, have none")
	}
}

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		``,
		`not json`,
		`{"level":"info","message":"request served"}`,
		`{"level":"info","message":"PROFILE: something else entirely"}`,
	} {
		if _, err := rpcproflog.DecodeLine([]byte(line)); !errors.Is(err, rpcproflog.ErrNotProfile) {
			t.Errorf("%q: want ErrNotProfile, have %v", line, err)
		}
	}

	for _, line := range []string{
		`{"message":"PROFILE","chunk":0,"chunks":1,"encoding":"plain","profile":{"calls":[]}}`,
		`{"message":"PROFILE","id":"x","chunk":1,"chunks":1,"encoding":"plain","profile":{"calls":[]}}`,
		`{"message":"PROFILE","id":"x","chunk":0,"chunks":1,"encoding":"zlib","profile":{"calls":[]}}`,
		`{"message":"PROFILE","id":"x","chunk":0,"chunks":1,"encoding":"zlib","profile":"AAAA"}`,
		`{"message":"PROFILE","id":"x","chunk":0,"chunks":1,"encoding":"bogus","profile":{}}`,
	} {
		_, err := rpcproflog.DecodeLine([]byte(line))
		if err == nil || errors.Is(err, rpcproflog.ErrNotProfile) {
			t.Errorf("%s: want decode error, have %v", line, err)
		}
	}

	c, err := rpcproflog.DecodeLine([]byte(`{"level":"info","id":"x","chunk":1,"chunks":2,"encoding":"plain","profile":{"calls":[{"offset":1,"service":"s","call":"c"}]},"time":"2013-06-01T12:00:00Z","message":"PROFILE"}`))
	AssertNoError(t, err)
	ExpectEqual(t, "x", c.ID)
	ExpectEqual(t, 1, c.Index)
	ExpectEqual(t, 2, c.Count)
	ExpectEqual(t, rpcproflog.Plain, c.Encoding)
	ExpectEqual(t, true, c.Profile.Fragment)
	AssertEqual(t, 1, len(c.Profile.Calls))
	ExpectEqual(t, rpcprof.Call{Offset: 1, Service: "s", Method: "c"}, c.Profile.Calls[0])
}

func TestReassemblerIncomplete(t *testing.T) {
	t.Parallel()

	chunks := rpcprof.Chunk(makeProfile(25), 10)
	AssertEqual(t, 3, len(chunks))

	r := rpcproflog.NewReassembler()

	res, err := r.Add(rpcproflog.Chunk{ID: "b", Index: 2, Count: 3, Profile: chunks[2]})
	AssertNoError(t, err)
	ExpectEqual(t, true, res == nil)

	res, err = r.Add(rpcproflog.Chunk{ID: "a", Index: 1, Count: 3, Profile: chunks[1]})
	AssertNoError(t, err)
	ExpectEqual(t, true, res == nil)

	res, err = r.Add(rpcproflog.Chunk{ID: "b", Index: 0, Count: 3, Profile: chunks[0]})
	AssertNoError(t, err)
	ExpectEqual(t, true, res == nil)

	if _, err := r.Add(rpcproflog.Chunk{ID: "b", Index: 0, Count: 3, Profile: chunks[0]}); err == nil {
		t.Errorf("duplicate chunk: want error, have none")
	}
	if _, err := r.Add(rpcproflog.Chunk{ID: "b", Index: 1, Count: 4, Profile: chunks[1]}); err == nil {
		t.Errorf("count mismatch: want error, have none")
	}

	AssertEqual(t, 2, r.Pending())

	flushed := r.Flush()
	AssertEqual(t, 2, len(flushed))
	AssertEqual(t, 0, r.Pending())

	ExpectEqual(t, "a", flushed[0].ID)
	ExpectEqual(t, 10, len(flushed[0].Profile.Calls))
	ExpectEqual(t, true, flushed[0].Profile.Fragment)
	if want, have := []string{"missing chunk 0 of 3", "missing chunk 2 of 3", "missing overhead and exec metadata"}, flushed[0].Issues; !cmp.Equal(want, have) {
		t.Error(cmp.Diff(want, have))
	}

	ExpectEqual(t, "b", flushed[1].ID)
	ExpectEqual(t, 15, len(flushed[1].Profile.Calls))
	ExpectEqual(t, false, flushed[1].Profile.Fragment)
	if want, have := []string{"missing chunk 1 of 3"}, flushed[1].Issues; !cmp.Equal(want, have) {
		t.Error(cmp.Diff(want, have))
	}
}

func TestReassemblerCleanup(t *testing.T) {
	t.Parallel()

	r := rpcproflog.NewReassembler()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Add(rpcproflog.Chunk{ID: id, Index: 0, Count: 2, Profile: makeProfile(1)})
		AssertNoError(t, err)
	}
	AssertEqual(t, 3, r.Pending())

	ExpectEqual(t, 0, r.Cleanup(time.Hour))
	ExpectEqual(t, 3, r.Cleanup(0))
	ExpectEqual(t, 0, r.Pending())
}
