package rpcprof

import (
	"encoding/json"
	"fmt"
	"time"
)

// Call is a single observed RPC. The offset is measured from the creation of
// the recorder, and the duration from the start of the call to its finish,
// both in milliseconds.
//
// A call which has been started but not yet finished is open, and has a false
// Finished field. Finished calls always carry a duration, which can be zero.
type Call struct {
	Offset   int64
	Service  string
	Method   string
	Duration int64
	Finished bool
}

// String implements fmt.Stringer.
func (c Call) String() string {
	if !c.Finished {
		return fmt.Sprintf("%s.%s +%dms (open)", c.Service, c.Method, c.Offset)
	}
	return fmt.Sprintf("%s.%s +%dms %dms", c.Service, c.Method, c.Offset, c.Duration)
}

// MarshalJSON implements json.Marshaler. Open calls omit the duration key.
func (c Call) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonCallFrom(c))
}

// UnmarshalJSON implements json.Unmarshaler. The call is finished if and only
// if the duration key is present.
func (c *Call) UnmarshalJSON(data []byte) error {
	var jc jsonCall
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}
	jc.writeTo(c)
	return nil
}

type jsonCall struct {
	Offset   int64  `json:"offset"`
	Service  string `json:"service"`
	Method   string `json:"call"`
	Duration *int64 `json:"duration,omitempty"`
}

func jsonCallFrom(c Call) jsonCall {
	jc := jsonCall{
		Offset:  c.Offset,
		Service: c.Service,
		Method:  c.Method,
	}
	if c.Finished {
		d := c.Duration
		jc.Duration = &d
	}
	return jc
}

func (jc *jsonCall) writeTo(c *Call) {
	*c = Call{
		Offset:  jc.Offset,
		Service: jc.Service,
		Method:  jc.Method,
	}
	if jc.Duration != nil {
		c.Duration = *jc.Duration
		c.Finished = true
	}
}

//
//
//

// Profile is a snapshot of everything a recorder observed during a request.
// Overhead is the time spent inside the recorder itself, and exec is the total
// time from the creation of the recorder to the snapshot, both in
// milliseconds.
//
// A fragment is a continuation produced by [Chunk]. Fragments carry calls
// only: the overhead and exec metadata describe the whole request, and are
// only present in the first chunk.
type Profile struct {
	OverheadMillis int64
	ExecMillis     int64
	Calls          []Call
	Fragment       bool
}

// Overhead returns the overhead as a duration.
func (p Profile) Overhead() time.Duration {
	return time.Duration(p.OverheadMillis) * time.Millisecond
}

// Exec returns the exec time as a duration.
func (p Profile) Exec() time.Duration {
	return time.Duration(p.ExecMillis) * time.Millisecond
}

// MarshalJSON implements json.Marshaler.
func (p Profile) MarshalJSON() ([]byte, error) {
	calls := p.Calls
	if calls == nil {
		calls = []Call{} // always a list, never null
	}

	if p.Fragment {
		return json.Marshal(struct {
			Calls []Call `json:"calls"`
		}{
			Calls: calls,
		})
	}

	return json.Marshal(jsonProfile{
		Overhead: &p.OverheadMillis,
		Exec:     &p.ExecMillis,
		Calls:    calls,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A profile without overhead and
// exec metadata is decoded as a fragment.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var jp jsonProfile
	if err := json.Unmarshal(data, &jp); err != nil {
		return err
	}

	*p = Profile{
		Calls:    jp.Calls,
		Fragment: jp.Overhead == nil && jp.Exec == nil,
	}
	if jp.Overhead != nil {
		p.OverheadMillis = *jp.Overhead
	}
	if jp.Exec != nil {
		p.ExecMillis = *jp.Exec
	}
	return nil
}

type jsonProfile struct {
	Overhead *int64 `json:"overhead,omitempty"`
	Exec     *int64 `json:"exec_time,omitempty"`
	Calls    []Call `json:"calls"`
}
