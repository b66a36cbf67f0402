package queue

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListLockedFindsLockedArtifacts(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}

	pdfSrc := filepath.Join(root, "a.pdf")
	metaSrc := filepath.Join(root, "a.json")
	if err := os.WriteFile(pdfSrc, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaSrc, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Submit(root, "stuck1", pdfSrc, metaSrc, false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ClaimNext(root, false); err != nil {
		t.Fatal(err)
	}

	entries, err := ListLocked(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 locked entries (pdf+metadata), got %d: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.UUID != "stuck1" {
			t.Errorf("unexpected uuid %q", e.UUID)
		}
		if e.State != Jobs {
			t.Errorf("unexpected state %q", e.State)
		}
	}
}

func TestListLockedEmptyRoot(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	entries, err := ListLocked(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no locked entries, got %d", len(entries))
	}
}
