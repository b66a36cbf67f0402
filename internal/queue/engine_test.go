package queue

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// S1/S2/S3 from spec.md §8.
func TestSubmitClaimFinalizeRoundTrip(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	pdf := writeTemp(t, src, "a.pdf", "%PDF-1.6\nhello")
	meta := writeTemp(t, src, "a.meta", "{}")

	if err := Submit(root, "u1", pdf, meta, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !exists(filepath.Join(root, "jobs", "u1.pdf.job")) {
		t.Fatal("expected live pdf under jobs/")
	}
	if !exists(filepath.Join(root, "jobs", "u1.metadata.job")) {
		t.Fatal("expected live metadata under jobs/")
	}

	gotID, gotState, err := ClaimNext(root, false)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if gotID != "u1" || gotState != Jobs {
		t.Fatalf("ClaimNext = (%s, %s), want (u1, jobs)", gotID, gotState)
	}
	if !exists(filepath.Join(root, "jobs", "u1.pdf.job.lock")) {
		t.Fatal("expected locked pdf")
	}
	if exists(filepath.Join(root, "jobs", "u1.pdf.job")) {
		t.Fatal("live pdf should be gone after claim")
	}

	if err := Finalize(root, "u1", Jobs, Complete); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !exists(filepath.Join(root, "complete", "u1.pdf.job")) {
		t.Fatal("expected live pdf under complete/")
	}
	if !exists(filepath.Join(root, "complete", "u1.metadata.job")) {
		t.Fatal("expected live metadata under complete/")
	}
}

// Property 2: priority preference.
func TestClaimNextPriorityPreference(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	Init(root)

	pdf1 := writeTemp(t, src, "r.pdf", "%PDF-1.4\nx")
	meta1 := writeTemp(t, src, "r.meta", "{}")
	Submit(root, "reg", pdf1, meta1, false)

	pdf2 := writeTemp(t, src, "p.pdf", "%PDF-1.4\ny")
	meta2 := writeTemp(t, src, "p.meta", "{}")
	Submit(root, "pri", pdf2, meta2, true)

	id, state, err := ClaimNext(root, true)
	if err != nil || id != "pri" || state != PriorityJobs {
		t.Fatalf("prefer_priority=true: got (%s,%s,%v), want (pri,priority_jobs,nil)", id, state, err)
	}

	id2, state2, err2 := ClaimNext(root, false)
	if err2 != nil || id2 != "reg" || state2 != Jobs {
		t.Fatalf("prefer_priority=false: got (%s,%s,%v), want (reg,jobs,nil)", id2, state2, err2)
	}
}

// Property 1: claim uniqueness under N concurrent claimers.
func TestClaimUniquenessConcurrent(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	Init(root)

	const m = 8
	for i := 0; i < m; i++ {
		pdf := writeTemp(t, src, filepmt(i)+".pdf", "%PDF-1.7\nbody")
		meta := writeTemp(t, src, filepmt(i)+".meta", "{}")
		if err := Submit(root, filepmt(i), pdf, meta, false); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	const n = 16
	results := make(chan string, n)
	errs := make(chan error, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			id, _, err := ClaimNext(root, false)
			if err != nil {
				errs <- err
				return
			}
			results <- id
		}()
	}
	go func() { defer close(done) }()

	seen := map[string]bool{}
	claimed := 0
	notFound := 0
	for i := 0; i < n; i++ {
		select {
		case id := <-results:
			if seen[id] {
				t.Fatalf("duplicate claim of %s", id)
			}
			seen[id] = true
			claimed++
		case err := <-errs:
			if !IsNotFound(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			notFound++
		}
	}
	if claimed != m {
		t.Fatalf("claimed = %d, want %d", claimed, m)
	}
	if notFound != n-m {
		t.Fatalf("not_found = %d, want %d", notFound, n-m)
	}
}

func filepmt(i int) string {
	return "job" + string(rune('a'+i))
}

func TestReleaseAndStatus(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	Init(root)

	pdf := writeTemp(t, src, "a.pdf", "%PDF-1.5\nx")
	meta := writeTemp(t, src, "a.meta", "{}")
	Submit(root, "u1", pdf, meta, false)

	if _, _, err := ClaimNext(root, false); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	state, locked, err := Status(root, "u1")
	if err != nil || state != Jobs || !locked {
		t.Fatalf("Status after claim = (%s,%v,%v), want (jobs,true,nil)", state, locked, err)
	}

	if err := Release(root, "u1", Jobs); err != nil {
		t.Fatalf("Release: %v", err)
	}
	state, locked, err = Status(root, "u1")
	if err != nil || state != Jobs || locked {
		t.Fatalf("Status after release = (%s,%v,%v), want (jobs,false,nil)", state, locked, err)
	}
}

func TestReleaseNotFound(t *testing.T) {
	root := t.TempDir()
	Init(root)
	err := Release(root, "ghost", Jobs)
	if !IsNotFound(err) {
		t.Fatalf("Release on missing job: got %v, want not_found", err)
	}
}

func TestInvalidUUIDRejected(t *testing.T) {
	if ValidUUID("../etc/passwd") {
		t.Fatal("path traversal uuid accepted")
	}
	if ValidUUID("") {
		t.Fatal("empty uuid accepted")
	}
	if ValidUUID(string(make([]byte, 129))) {
		t.Fatal("over-length uuid accepted")
	}
	if !ValidUUID("abc-123_DEF.456") {
		t.Fatal("valid uuid rejected")
	}
}

func TestMove(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	Init(root)
	pdf := writeTemp(t, src, "a.pdf", "%PDF-1.5\nx")
	meta := writeTemp(t, src, "a.meta", "{}")
	Submit(root, "u1", pdf, meta, false)

	if err := Move(root, "u1", Jobs, PriorityJobs); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if exists(filepath.Join(root, "jobs", "u1.pdf.job")) {
		t.Fatal("pdf should have left jobs/")
	}
	if !exists(filepath.Join(root, "priority_jobs", "u1.pdf.job")) {
		t.Fatal("pdf should now be in priority_jobs/")
	}
}

func TestCollectStatsOrphans(t *testing.T) {
	root := t.TempDir()
	Init(root)
	// A pdf with no sibling metadata is an orphan.
	writeTemp(t, filepath.Join(root, "jobs"), "orphan.pdf.job", "%PDF-1.4\nx")

	stats, err := CollectStats(root)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.States[Jobs].Orphans != 1 {
		t.Fatalf("orphans = %d, want 1", stats.States[Jobs].Orphans)
	}
	if stats.TotalFiles != 1 {
		t.Fatalf("total files = %d, want 1", stats.TotalFiles)
	}
}
