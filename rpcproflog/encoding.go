package rpcproflog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/peterbourgon/rpcprof"
)

// Encoding is how a profile is represented in a log line.
type Encoding string

const (
	// Plain profiles are JSON objects, readable as-is.
	Plain Encoding = "plain"

	// Compressed profiles are zlib-compressed JSON, encoded as standard base64,
	// and carried as a JSON string. Much smaller, but not human-readable.
	Compressed Encoding = "zlib"
)

// ParseEncoding parses the string representation of an encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch enc := Encoding(s); enc {
	case Plain, Compressed:
		return enc, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", s)
	}
}

// Encode a single profile, typically a chunk, with the given encoding.
func Encode(enc Encoding, p rpcprof.Profile) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	switch enc {
	case Plain:
		return data, nil

	case Compressed:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("compress profile: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress profile: %w", err)
		}
		dst := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
		base64.StdEncoding.Encode(dst, buf.Bytes())
		return dst, nil

	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Decode a single profile produced by Encode with the same encoding.
func Decode(enc Encoding, data []byte) (rpcprof.Profile, error) {
	switch enc {
	case Plain:
		// ok

	case Compressed:
		compressed := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(compressed, data)
		if err != nil {
			return rpcprof.Profile{}, fmt.Errorf("decode base64: %w", err)
		}

		zr, err := zlib.NewReader(bytes.NewReader(compressed[:n]))
		if err != nil {
			return rpcprof.Profile{}, fmt.Errorf("decompress profile: %w", err)
		}
		defer zr.Close()

		if data, err = io.ReadAll(zr); err != nil {
			return rpcprof.Profile{}, fmt.Errorf("decompress profile: %w", err)
		}

	default:
		return rpcprof.Profile{}, fmt.Errorf("unknown encoding %q", enc)
	}

	var p rpcprof.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return rpcprof.Profile{}, fmt.Errorf("unmarshal profile: %w", err)
	}

	return p, nil
}
