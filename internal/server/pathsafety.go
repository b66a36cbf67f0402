package server

import (
	"fmt"
	"path/filepath"
	"strings"
)

// isSafeRelPath rejects empty input, absolute paths, any segment equal
// to ".", "..", or empty, and any byte that is a control character, ':',
// or '\' (spec.md §4.5.4).
func isSafeRelPath(p string) bool {
	if p == "" {
		return false
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < 0x20 || c == ':' || c == '\\' {
			return false
		}
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return false
		}
	}
	return true
}

// confinementError distinguishes the three ways resolving a client path
// against the root can fail, so callers can map to 403/404/500
// (spec.md §4.5.4).
type confinementError struct {
	status status
}

func (e *confinementError) Error() string { return fmt.Sprintf("confinement: http %d", e.status) }

// confine resolves root+rel to its canonical form and checks that it
// lies at or beneath the canonical root (I5), returning the canonical
// path on success. Symlinks and ".." are defused by EvalSymlinks before
// the prefix check, and the check requires a trailing separator or
// exact match so "/root" never matches "/rootsibling" (spec.md §9).
func confine(root, rel string) (string, error) {
	if !isSafeRelPath(rel) {
		return "", &confinementError{status403}
	}
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &confinementError{status500}
	}
	candidate := filepath.Join(root, rel)
	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", &confinementError{status404}
	}
	if canonical != canonicalRoot && !strings.HasPrefix(canonical, canonicalRoot+string(filepath.Separator)) {
		return "", &confinementError{status403}
	}
	return canonical, nil
}

// confineForCreate is like confine but for a path that may not exist yet
// (e.g. an upload output directory about to be created): it checks the
// relpath shape and the nearest existing ancestor's canonical form,
// without requiring the final component to exist.
func confineForCreate(root, rel string) (string, error) {
	if !isSafeRelPath(rel) {
		return "", &confinementError{status403}
	}
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &confinementError{status500}
	}
	candidate := filepath.Join(root, rel)

	// Walk up to the nearest existing ancestor to canonicalize symlinks
	// without requiring the leaf directories to pre-exist.
	dir := candidate
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			if resolved != canonicalRoot && !strings.HasPrefix(resolved, canonicalRoot+string(filepath.Separator)) {
				return "", &confinementError{status403}
			}
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &confinementError{status500}
		}
		dir = parent
	}
	return candidate, nil
}
