package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cognusion/pdfqueue/internal/queue"
)

func TestClaimLoopReturnsSubmittedJob(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
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
	if err := queue.Submit(root, "j1", pdfSrc, metaSrc, false); err != nil {
		t.Fatal(err)
	}

	b := NewBackoff(5*time.Millisecond, 20*time.Millisecond)
	stop := make(chan struct{})
	res, ok := ClaimLoop(root, false, b, stop)
	if !ok {
		t.Fatal("expected a claim to succeed")
	}
	if res.UUID != "j1" || res.State != queue.Jobs {
		t.Fatalf("unexpected claim result: %+v", res)
	}
}

func TestClaimLoopStopsOnSignal(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}

	b := NewBackoff(5*time.Millisecond, 10*time.Millisecond)
	stop := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(stop)
	}()

	_, ok := ClaimLoop(root, false, b, stop)
	if ok {
		t.Fatal("expected ClaimLoop to stop without a claim on an empty, stopped queue")
	}
}

func TestWriteErrorReportFinalizesToError(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
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
	if err := queue.Submit(root, "j2", pdfSrc, metaSrc, false); err != nil {
		t.Fatal(err)
	}
	uuid, state, err := queue.ClaimNext(root, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := WriteErrorReport(root, uuid, state, fmt.Errorf("boom")); err != nil {
		t.Fatal(err)
	}

	st, locked, err := queue.Status(root, uuid)
	if err != nil {
		t.Fatal(err)
	}
	if st != queue.Error || locked {
		t.Fatalf("expected job in error state, unlocked; got state=%s locked=%v", st, locked)
	}

	reportPath, err := queue.Path(root, queue.Error, queue.Report, uuid, false)
	if err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"error":"io"`) {
		t.Fatalf("expected error kind \"io\" in report, got %s", body)
	}
	if !strings.Contains(string(body), `"detail":"boom"`) {
		t.Fatalf("expected spec.md §6's \"detail\" key in report, got %s", body)
	}
}

func TestMarshalWithRetrySucceedsWithinStartingBuffer(t *testing.T) {
	attempts := 0
	body, err := MarshalWithRetry(func(maxLen int) ([]byte, error) {
		attempts++
		b := []byte(`{"x":1}`)
		if maxLen > 0 && len(b) > maxLen {
			return nil, fmt.Errorf("too small")
		}
		return b, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"x":1}` {
		t.Fatalf("unexpected body: %q", body)
	}
	if attempts != 1 {
		t.Fatalf("expected success on first attempt with a 256-byte starting hint, got %d attempts", attempts)
	}
}

func TestMarshalWithRetryGivesUpAfterEightAttempts(t *testing.T) {
	_, err := MarshalWithRetry(func(maxLen int) ([]byte, error) {
		return nil, fmt.Errorf("always too small")
	})
	if err == nil {
		t.Fatal("expected an error when marshal never succeeds")
	}
}
