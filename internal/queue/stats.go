package queue

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StateStats aggregates the per-state counters CollectStats produces.
type StateStats struct {
	LivePDF      int   `json:"live_pdf"`
	LiveMeta     int   `json:"live_metadata"`
	LiveReport   int   `json:"live_report"`
	LockedPDF    int   `json:"locked_pdf"`
	LockedMeta   int   `json:"locked_metadata"`
	LockedReport int   `json:"locked_report"`
	Orphans      int   `json:"orphans"`
	Bytes        int64 `json:"bytes"`
}

// Stats is the result of a single walk of all four state directories.
type Stats struct {
	States      map[State]*StateStats `json:"states"`
	TotalFiles  int                   `json:"total_files"`
	TotalLocked int                   `json:"total_locked"`
	TotalOrphan int                   `json:"total_orphans"`
	TotalBytes  int64                 `json:"total_bytes"`
	OldestMtime time.Time             `json:"oldest_mtime"`
	NewestMtime time.Time             `json:"newest_mtime"`
}

// entryInfo is what collectStats needs per directory entry to classify
// it and to detect orphans (a live file whose sibling kind is missing).
type entryInfo struct {
	kind   Kind
	locked bool
	size   int64
	mtime  time.Time
}

// CollectStats walks all four state directories once, classifying every
// entry by suffix and aggregating byte totals plus oldest/newest mtimes.
// The scan is best-effort: a single unreadable entry does not fail the
// call; only an unreadable root state directory propagates an io error,
// and even then the partial result accumulated so far is still returned.
func CollectStats(root string) (*Stats, error) {
	st := &Stats{States: make(map[State]*StateStats, len(states))}
	var firstErr error

	for _, s := range states {
		ss := &StateStats{}
		st.States[s] = ss

		perUUID := make(map[string]map[Kind]entryInfo)
		dir := filepath.Join(root, string(s))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) && firstErr == nil {
				firstErr = newErr("CollectStats", KindIO, err)
			}
			continue
		}

		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			id, kind, locked, ok := classify(ent.Name())
			if !ok {
				continue
			}
			info, ierr := ent.Info()
			if ierr != nil {
				continue // best-effort: skip entries that vanished mid-scan
			}

			ei := entryInfo{kind: kind, locked: locked, size: info.Size(), mtime: info.ModTime()}
			if perUUID[id] == nil {
				perUUID[id] = make(map[Kind]entryInfo)
			}
			perUUID[id][kindLockKey(kind, locked)] = ei

			tallyKind(ss, kind, locked)
			ss.Bytes += info.Size()
			st.TotalBytes += info.Size()
			st.TotalFiles++
			if locked {
				st.TotalLocked++
			}
			if st.OldestMtime.IsZero() || info.ModTime().Before(st.OldestMtime) {
				st.OldestMtime = info.ModTime()
			}
			if info.ModTime().After(st.NewestMtime) {
				st.NewestMtime = info.ModTime()
			}
		}

		ss.Orphans = countOrphans(perUUID)
		st.TotalOrphan += ss.Orphans
	}

	return st, firstErr
}

// kindLockKey folds (kind, locked) into a synthetic Kind so it can key a
// map alongside the plain live kinds without a second map dimension.
func kindLockKey(k Kind, locked bool) Kind {
	if locked {
		return Kind(string(k) + "#locked")
	}
	return k
}

func tallyKind(ss *StateStats, kind Kind, locked bool) {
	switch {
	case kind == PDF && !locked:
		ss.LivePDF++
	case kind == PDF && locked:
		ss.LockedPDF++
	case kind == Metadata && !locked:
		ss.LiveMeta++
	case kind == Metadata && locked:
		ss.LockedMeta++
	case kind == Report && !locked:
		ss.LiveReport++
	case kind == Report && locked:
		ss.LockedReport++
	}
}

// countOrphans counts, per uuid, live files whose live sibling of the
// other required kind (pdf<->metadata) is absent. Reports are never
// required, so a report file alone is never counted as an orphan.
func countOrphans(perUUID map[string]map[Kind]entryInfo) int {
	n := 0
	for _, kinds := range perUUID {
		_, hasPDF := kinds[PDF]
		_, hasMeta := kinds[Metadata]
		if hasPDF && !hasMeta {
			n++
		}
		if hasMeta && !hasPDF {
			n++
		}
	}
	return n
}

// classify derives (uuid, kind, locked) from a directory entry name,
// trying locked suffixes before live ones since locked is a superset
// (live suffix + ".lock").
func classify(name string) (uuid string, kind Kind, locked bool, ok bool) {
	for k, sfx := range suffix {
		if strings.HasSuffix(name, sfx+lockSuffix) {
			return strings.TrimSuffix(name, sfx+lockSuffix), k, true, true
		}
	}
	for k, sfx := range suffix {
		if strings.HasSuffix(name, sfx) {
			return strings.TrimSuffix(name, sfx), k, false, true
		}
	}
	return "", "", false, false
}
