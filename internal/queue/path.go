package queue

import (
	"fmt"
	"path/filepath"
	"strings"
)

// State names the four directories under a queue root.
type State string

const (
	Jobs         State = "jobs"
	PriorityJobs State = "priority_jobs"
	Complete     State = "complete"
	Error        State = "error"
)

// states lists every valid State in the fixed order Init creates them.
var states = [...]State{Jobs, PriorityJobs, Complete, Error}

func (s State) valid() bool {
	switch s {
	case Jobs, PriorityJobs, Complete, Error:
		return true
	default:
		return false
	}
}

// Kind names the artifact kind co-located under a job's state directory.
type Kind string

const (
	PDF      Kind = "pdf"
	Metadata Kind = "metadata"
	Report   Kind = "report"
)

// suffix is the live-form filename suffix for each artifact kind.
// Locked forms append ".lock".
var suffix = map[Kind]string{
	PDF:      ".pdf.job",
	Metadata: ".metadata.job",
	Report:   ".report.html.job",
}

const lockSuffix = ".lock"

// maxUUIDLen bounds the length of a uuid accepted by any operation (I4).
const maxUUIDLen = 128

// ValidUUID reports whether id is a non-empty string of ASCII
// alphanumerics plus '.', '_', '-', no longer than maxUUIDLen, containing
// no path separators, no "..", and no control characters (I4).
func ValidUUID(id string) bool {
	if id == "" || len(id) > maxUUIDLen {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Path returns the absolute on-disk path for (root, state, kind, uuid),
// in its live or locked form. No I/O occurs; the only failures are
// argument validation failures (spec.md §4.1).
func Path(root string, state State, kind Kind, uuid string, locked bool) (string, error) {
	const op = "Path"
	if !state.valid() {
		return "", newErr(op, KindInvalidArgument, fmt.Errorf("unknown state %q", state))
	}
	if !ValidUUID(uuid) {
		return "", newErr(op, KindInvalidArgument, fmt.Errorf("invalid uuid %q", uuid))
	}
	sfx, ok := suffix[kind]
	if !ok {
		return "", newErr(op, KindInvalidArgument, fmt.Errorf("unknown kind %q", kind))
	}
	name := uuid + sfx
	if locked {
		name += lockSuffix
	}
	full := filepath.Join(root, string(state), name)
	// Defend against pathological concatenations overflowing typical
	// filesystem name/path limits; this mirrors the buffer-overflow
	// invariant called out in spec.md §4.1 for a fixed-size-buffer target.
	if len(filepath.Base(full)) > 255 {
		return "", newErr(op, KindInvalidArgument, fmt.Errorf("path component too long"))
	}
	return full, nil
}

// uuidFromLiveName strips a live-form suffix (e.g. ".pdf.job") from a
// directory entry name, returning the candidate uuid and ok=true if the
// name ends in that suffix and is not itself locked.
func uuidFromLiveName(name string, kind Kind) (string, bool) {
	sfx := suffix[kind]
	if strings.HasSuffix(name, sfx+lockSuffix) {
		return "", false
	}
	if !strings.HasSuffix(name, sfx) {
		return "", false
	}
	return strings.TrimSuffix(name, sfx), true
}
