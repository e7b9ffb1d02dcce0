package rpcprof

import "fmt"

// Chunk splits the profile into one or more profiles, each containing at most
// maxCalls calls, preserving the order of calls. It's meant for transports
// with a size limit per message, like log lines.
//
// If the profile has maxCalls calls or fewer, it's returned unchanged as the
// only element. Otherwise, the first profile carries the overhead and exec
// metadata along with the first maxCalls calls, and every subsequent profile
// is a fragment carrying only its calls.
//
// Chunk panics if maxCalls is less than 1.
func Chunk(p Profile, maxCalls int) []Profile {
	if maxCalls < 1 {
		panic(fmt.Sprintf("rpcprof: invalid max calls per chunk %d", maxCalls))
	}

	if len(p.Calls) <= maxCalls {
		return []Profile{p}
	}

	chunks := make([]Profile, 0, (len(p.Calls)+maxCalls-1)/maxCalls)
	for lo := 0; lo < len(p.Calls); lo += maxCalls {
		hi := lo + maxCalls
		if hi > len(p.Calls) {
			hi = len(p.Calls)
		}
		chunks = append(chunks, Profile{
			Calls:    p.Calls[lo:hi:hi],
			Fragment: true,
		})
	}

	chunks[0].OverheadMillis = p.OverheadMillis
	chunks[0].ExecMillis = p.ExecMillis
	chunks[0].Fragment = p.Fragment

	return chunks
}

// Merge is the inverse of Chunk. It concatenates the calls of every chunk in
// order, and takes the overhead and exec metadata from the first chunk that
// isn't a fragment. If every chunk is a fragment, so is the result.
func Merge(chunks []Profile) Profile {
	var (
		merged   = Profile{Fragment: true}
		numCalls = 0
	)
	for _, c := range chunks {
		numCalls += len(c.Calls)
	}

	merged.Calls = make([]Call, 0, numCalls)
	for _, c := range chunks {
		if merged.Fragment && !c.Fragment {
			merged.OverheadMillis = c.OverheadMillis
			merged.ExecMillis = c.ExecMillis
			merged.Fragment = false
		}
		merged.Calls = append(merged.Calls, c.Calls...)
	}

	return merged
}
