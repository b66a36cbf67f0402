package queue

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Init ensures the four state directories exist under root. Idempotent;
// existing directories are accepted.
func Init(root string) error {
	const op = "Init"
	for _, s := range states {
		dir := filepath.Join(root, string(s))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return newErr(op, KindIO, err)
		}
	}
	return nil
}

// Submit copies pdfSrc and metaSrc into the live PDF/metadata paths of
// Jobs or PriorityJobs (per priority). If the metadata copy fails, the
// PDF copy is unlinked (spec.md §4.2).
func Submit(root string, uuid string, pdfSrc, metaSrc string, priority bool) error {
	const op = "Submit"
	state := Jobs
	if priority {
		state = PriorityJobs
	}

	pdfDst, err := Path(root, state, PDF, uuid, false)
	if err != nil {
		return err
	}
	metaDst, err := Path(root, state, Metadata, uuid, false)
	if err != nil {
		return err
	}

	if _, err := copyFile(pdfSrc, pdfDst); err != nil {
		return newErr(op, classifyIOErr(err), fmt.Errorf("copy pdf: %w", err))
	}
	if _, err := copyFile(metaSrc, metaDst); err != nil {
		// Best-effort revert: the PDF landed, the pair is incomplete.
		_ = os.Remove(pdfDst)
		return newErr(op, classifyIOErr(err), fmt.Errorf("copy metadata: %w", err))
	}
	return nil
}

// Move renames the live PDF and metadata of uuid from one non-locked
// state to another. If the metadata rename fails, the PDF rename is
// reverted on a best-effort basis (spec.md §4.2).
func Move(root string, uuid string, from, to State) error {
	const op = "Move"
	pdfFrom, err := Path(root, from, PDF, uuid, false)
	if err != nil {
		return err
	}
	pdfTo, err := Path(root, to, PDF, uuid, false)
	if err != nil {
		return err
	}
	metaFrom, err := Path(root, from, Metadata, uuid, false)
	if err != nil {
		return err
	}
	metaTo, err := Path(root, to, Metadata, uuid, false)
	if err != nil {
		return err
	}

	if err := rename(pdfFrom, pdfTo); err != nil {
		return newErr(op, classifyRenameErr(err), err)
	}
	if err := rename(metaFrom, metaTo); err != nil {
		_ = rename(pdfTo, pdfFrom) // best-effort revert
		return newErr(op, classifyRenameErr(err), err)
	}
	return nil
}

// ClaimNext atomically claims a single (pdf, metadata) pair, scanning
// PriorityJobs then Jobs (or the reverse, per preferPriority), and moves
// it to its locked form in place. The PDF rename is the linearisation
// point: exactly one concurrent claimer wins it (spec.md §4.2.1).
func ClaimNext(root string, preferPriority bool) (uuid string, state State, err error) {
	const op = "ClaimNext"
	order := [2]State{Jobs, PriorityJobs}
	if preferPriority {
		order = [2]State{PriorityJobs, Jobs}
	}

	for _, s := range order {
		id, ok, cerr := claimInState(root, s)
		if cerr != nil {
			return "", "", newErr(op, KindIO, cerr)
		}
		if ok {
			return id, s, nil
		}
	}
	return "", "", newErr(op, KindNotFound, fmt.Errorf("no claimable job"))
}

// claimInState scans one state directory for a claimable live pair and
// attempts the two-step lock rename. Returns ok=false (no error) if
// nothing claimable was found or every candidate lost its race.
func claimInState(root string, state State) (string, bool, error) {
	dir := filepath.Join(root, string(state))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		id, ok := uuidFromLiveName(ent.Name(), PDF)
		if !ok || !ValidUUID(id) {
			continue
		}

		metaLive, err := Path(root, state, Metadata, id, false)
		if err != nil {
			continue
		}
		if !exists(metaLive) {
			continue // I1: not claimable without live metadata too
		}

		pdfLive, _ := Path(root, state, PDF, id, false)
		pdfLocked, _ := Path(root, state, PDF, id, true)
		metaLocked, _ := Path(root, state, Metadata, id, true)

		if err := rename(pdfLive, pdfLocked); err != nil {
			// Lost the race (or a transient fs error); try the next entry.
			continue
		}
		if err := rename(metaLive, metaLocked); err != nil {
			_ = rename(pdfLocked, pdfLive) // revert, best-effort
			continue
		}
		return id, true, nil
	}
	return "", false, nil
}

// Release renames the locked PDF/metadata of uuid back to their live
// form within the same state, reverting the PDF rename on metadata
// failure. Fails not_found if the locked PDF is absent.
func Release(root string, uuid string, state State) error {
	const op = "Release"
	pdfLocked, err := Path(root, state, PDF, uuid, true)
	if err != nil {
		return err
	}
	if !exists(pdfLocked) {
		return newErr(op, KindNotFound, fmt.Errorf("locked pdf for %s not present in %s", uuid, state))
	}
	pdfLive, _ := Path(root, state, PDF, uuid, false)
	metaLocked, _ := Path(root, state, Metadata, uuid, true)
	metaLive, _ := Path(root, state, Metadata, uuid, false)

	if err := rename(pdfLocked, pdfLive); err != nil {
		return newErr(op, classifyRenameErr(err), err)
	}
	if err := rename(metaLocked, metaLive); err != nil {
		_ = rename(pdfLive, pdfLocked)
		return newErr(op, classifyRenameErr(err), err)
	}
	return nil
}

// Finalize renames the locked PDF/metadata (and, if present, report) of
// uuid from "from" to the live form in "to", reverting the PDF rename on
// metadata failure.
func Finalize(root string, uuid string, from, to State) error {
	const op = "Finalize"
	pdfLocked, err := Path(root, from, PDF, uuid, true)
	if err != nil {
		return err
	}
	if !exists(pdfLocked) {
		return newErr(op, KindNotFound, fmt.Errorf("locked pdf for %s not present in %s", uuid, from))
	}
	pdfLive, _ := Path(root, to, PDF, uuid, false)
	metaLocked, _ := Path(root, from, Metadata, uuid, true)
	metaLive, _ := Path(root, to, Metadata, uuid, false)

	if err := rename(pdfLocked, pdfLive); err != nil {
		return newErr(op, classifyRenameErr(err), err)
	}
	if err := rename(metaLocked, metaLive); err != nil {
		_ = rename(pdfLive, pdfLocked)
		return newErr(op, classifyRenameErr(err), err)
	}

	// Reports are optional; move one along if present, best-effort.
	reportLocked, rerr := Path(root, from, Report, uuid, true)
	if rerr == nil && exists(reportLocked) {
		reportLive, _ := Path(root, to, Report, uuid, false)
		_ = rename(reportLocked, reportLive)
	}
	return nil
}

// Status probes, in the fixed order PriorityJobs, Jobs, Complete, Error,
// for the presence of uuid's PDF (live then locked), returning the first
// hit (spec.md §4.2, §9 Open Question on racy moves).
func Status(root string, uuid string) (state State, locked bool, err error) {
	const op = "Status"
	if !ValidUUID(uuid) {
		return "", false, newErr(op, KindInvalidArgument, fmt.Errorf("invalid uuid %q", uuid))
	}
	probe := [4]State{PriorityJobs, Jobs, Complete, Error}
	for _, s := range probe {
		live, _ := Path(root, s, PDF, uuid, false)
		if exists(live) {
			return s, false, nil
		}
		lockedPath, _ := Path(root, s, PDF, uuid, true)
		if exists(lockedPath) {
			return s, true, nil
		}
	}
	return "", false, newErr(op, KindNotFound, fmt.Errorf("uuid %s not found", uuid))
}

// --- helpers ---

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func rename(from, to string) error {
	return os.Rename(from, to)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) //#nosec G304 -- caller-controlled job source path
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode()) //#nosec G304
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Sync()
}

func classifyIOErr(err error) ErrKind {
	if os.IsNotExist(err) {
		return KindNotFound
	}
	return KindIO
}

func classifyRenameErr(err error) ErrKind {
	if os.IsNotExist(err) {
		return KindNotFound
	}
	var pe *fs.PathError
	if asPathError(err, &pe) && os.IsNotExist(pe.Err) {
		return KindNotFound
	}
	return KindIO
}

func asPathError(err error, target **fs.PathError) bool {
	pe, ok := err.(*fs.PathError)
	if ok {
		*target = pe
	}
	return ok
}
