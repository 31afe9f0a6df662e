package pipeline

import (
	"fmt"
	"strings"
)

// EmptyFetchError signals that a sync pass produced zero records. Applying
// an empty snapshot would delete every previously written key, so the run
// refuses to reconcile and leaves both sinks untouched.
type EmptyFetchError struct {
	// PreviousKeys is how many identities the cache held when the run
	// started, i.e. how much data a blind apply would have wiped.
	PreviousKeys int
}

func (e *EmptyFetchError) Error() string {
	return fmt.Sprintf("pipeline: fetch produced no records, refusing to wipe %d cached identities", e.PreviousKeys)
}

// WriteError signals that a sink failed wholesale. When the failing sink is
// the cache the index was never touched, so both sinks are still mutually
// consistent.
type WriteError struct {
	Sink string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("pipeline: %s %s failed: %v", e.Sink, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// PartialWriteError reports identities that were written to the cache but
// could not be applied to the index. The next successful run re-upserts
// them, so the divergence is bounded by one sync interval.
type PartialWriteError struct {
	Identities []string
}

func (e *PartialWriteError) Error() string {
	const sample = 5
	shown := e.Identities
	suffix := ""
	if len(shown) > sample {
		shown = shown[:sample]
		suffix = ", ..."
	}
	return fmt.Sprintf("pipeline: %d identities inconsistent across sinks: %s%s",
		len(e.Identities), strings.Join(shown, ", "), suffix)
}
