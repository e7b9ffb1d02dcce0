package rpcproflog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/peterbourgon/rpcprof"
)

// ErrNotProfile is returned by DecodeLine for log lines which weren't produced
// by an emitter.
var ErrNotProfile = errors.New("not a profile line")

// Chunk is a single decoded log line.
type Chunk struct {
	ID       string
	Index    int
	Count    int
	Encoding Encoding
	Profile  rpcprof.Profile
}

type jsonLine struct {
	Message  string          `json:"message"`
	ID       string          `json:"id"`
	Chunk    int             `json:"chunk"`
	Chunks   int             `json:"chunks"`
	Encoding Encoding        `json:"encoding"`
	Profile  json.RawMessage `json:"profile"`
}

// DecodeLine parses a log line written by an emitter. Lines that aren't JSON
// objects, or don't have the profile message, return ErrNotProfile.
func DecodeLine(line []byte) (Chunk, error) {
	var jl jsonLine
	if err := json.Unmarshal(line, &jl); err != nil || jl.Message != ProfileMessage {
		return Chunk{}, ErrNotProfile
	}

	if jl.ID == "" {
		return Chunk{}, fmt.Errorf("missing id")
	}

	if jl.Chunks < 1 || jl.Chunk < 0 || jl.Chunk >= jl.Chunks {
		return Chunk{}, fmt.Errorf("%s: invalid chunk %d of %d", jl.ID, jl.Chunk, jl.Chunks)
	}

	payload := []byte(jl.Profile)
	if jl.Encoding == Compressed {
		var s string
		if err := json.Unmarshal(jl.Profile, &s); err != nil {
			return Chunk{}, fmt.Errorf("%s: compressed profile must be a string: %w", jl.ID, err)
		}
		payload = []byte(s)
	}

	p, err := Decode(jl.Encoding, payload)
	if err != nil {
		return Chunk{}, fmt.Errorf("%s: chunk %d: %w", jl.ID, jl.Chunk, err)
	}

	return Chunk{
		ID:       jl.ID,
		Index:    jl.Chunk,
		Count:    jl.Chunks,
		Encoding: jl.Encoding,
		Profile:  p,
	}, nil
}

//
//
//

// Reassembled is a profile rebuilt from one or more chunks.
type Reassembled struct {
	ID      string
	Profile rpcprof.Profile
	Issues  []string
}

// Reassembler collects decoded chunks, and returns complete profiles once every
// chunk of a given ID has been seen. It's not safe for concurrent use.
type Reassembler struct {
	groups map[string]*chunkGroup
	now    func() time.Time
}

type chunkGroup struct {
	chunks     map[int]rpcprof.Profile
	count      int
	lastUpdate time.Time
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		groups: map[string]*chunkGroup{},
		now:    time.Now,
	}
}

// Add a chunk. If it completes its profile, the reassembled profile is
// returned. Otherwise, nil is returned, and more chunks are expected.
func (r *Reassembler) Add(c Chunk) (*Reassembled, error) {
	g, ok := r.groups[c.ID]
	if !ok {
		g = &chunkGroup{
			chunks: map[int]rpcprof.Profile{},
			count:  c.Count,
		}
		r.groups[c.ID] = g
	}

	if c.Count != g.count {
		return nil, fmt.Errorf("%s: chunk %d: count %d, expected %d", c.ID, c.Index, c.Count, g.count)
	}

	if _, ok := g.chunks[c.Index]; ok {
		return nil, fmt.Errorf("%s: duplicate chunk %d", c.ID, c.Index)
	}

	g.chunks[c.Index] = c.Profile
	g.lastUpdate = r.now()

	if len(g.chunks) < g.count {
		return nil, nil
	}

	delete(r.groups, c.ID)
	res := reassemble(c.ID, g)
	return &res, nil
}

// Pending returns the number of incomplete profiles.
func (r *Reassembler) Pending() int {
	return len(r.groups)
}

// Cleanup removes incomplete profiles that haven't seen a new chunk for at
// least maxAge, and returns how many were removed.
func (r *Reassembler) Cleanup(maxAge time.Duration) int {
	var (
		now     = r.now()
		cleaned = 0
	)
	for id, g := range r.groups {
		if now.Sub(g.lastUpdate) >= maxAge {
			delete(r.groups, id)
			cleaned++
		}
	}
	return cleaned
}

// Flush removes and returns every incomplete profile, ordered by ID, with an
// issue for each missing chunk.
func (r *Reassembler) Flush() []Reassembled {
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]Reassembled, 0, len(ids))
	for _, id := range ids {
		res = append(res, reassemble(id, r.groups[id]))
		delete(r.groups, id)
	}
	return res
}

func reassemble(id string, g *chunkGroup) Reassembled {
	var (
		chunks = make([]rpcprof.Profile, 0, len(g.chunks))
		issues = []string{}
	)
	for i := 0; i < g.count; i++ {
		c, ok := g.chunks[i]
		if !ok {
			issues = append(issues, fmt.Sprintf("missing chunk %d of %d", i, g.count))
			continue
		}
		chunks = append(chunks, c)
	}

	p := rpcprof.Merge(chunks)
	if p.Fragment {
		issues = append(issues, "missing overhead and exec metadata")
	}

	return Reassembled{
		ID:      id,
		Profile: p,
		Issues:  issues,
	}
}
