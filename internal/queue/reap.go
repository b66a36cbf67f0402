package queue

import (
	"os"
	"strings"
	"time"
)

// LockedEntry describes one locked artifact found under a state
// directory: a candidate for the read-only reaper listing spec.md
// §4.2.1/§9 calls for instead of automatic cleanup.
type LockedEntry struct {
	UUID    string
	State   State
	Kind    Kind
	ModTime time.Time
	Size    int64
}

// ListLocked scans every state directory for locked-form artifacts and
// returns them, sorted by nothing in particular (callers that want
// oldest-first should sort on ModTime themselves). It never removes or
// renames anything; spec.md §9's open question explicitly leaves actual
// cleanup to an operator, not this package.
func ListLocked(root string) ([]LockedEntry, error) {
	var out []LockedEntry
	var firstErr error

	for _, st := range states {
		dir := root + string(os.PathSeparator) + string(st)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasSuffix(name, lockSuffix) {
				continue
			}
			uuid, kind, ok := uuidAndKindFromLockedName(name)
			if !ok {
				continue
			}
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			out = append(out, LockedEntry{
				UUID:    uuid,
				State:   st,
				Kind:    kind,
				ModTime: info.ModTime(),
				Size:    info.Size(),
			})
		}
	}
	return out, firstErr
}

func uuidAndKindFromLockedName(name string) (uuid string, kind Kind, ok bool) {
	base := strings.TrimSuffix(name, lockSuffix)
	for k, sfx := range suffix {
		if strings.HasSuffix(base, sfx) {
			return strings.TrimSuffix(base, sfx), k, true
		}
	}
	return "", "", false
}
