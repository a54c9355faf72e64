package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	run:<runID>                       → RunRecord (JSON)
//	rt:<finishedUnixNano>:<runID>     → runID
//	fr:<formID>:<finishedUnixNano>:<runID> → runID
//
// Timestamps are zero-padded to 20 digits so keys sort chronologically.
const (
	prefixRun     = "run:"
	prefixRunTime = "rt:"
	prefixFormRun = "fr:"
)

func runKey(id string) []byte {
	return []byte(prefixRun + id)
}

func runTimeKey(finished time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixRunTime, finished.UnixNano(), id))
}

func formRunKey(formID string, finished time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixFormRun, formID, finished.UnixNano(), id))
}

func formRunPrefix(formID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFormRun, formID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
