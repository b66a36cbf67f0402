package accessibility

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePDF(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanFullyTaggedPDFHasNoIssues(t *testing.T) {
	path := writePDF(t, "%PDF-1.7\n<< /Catalog /StructTreeRoot /Lang (en-US) /MarkInfo << /Marked true >> /Alt (a picture) >>")

	var report Report
	if err := Scan(path, &report); err != nil {
		t.Fatal(err)
	}
	if report.PDFVersion != "1.7" {
		t.Fatalf("expected version 1.7, got %q", report.PDFVersion)
	}
	if !report.HasCatalog || !report.HasStructTree || !report.HasLang || !report.MarkedContent || !report.HasAltText {
		t.Fatalf("expected all flags set: %+v", report)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", report.Issues)
	}
}

func TestScanBareMinimumPDFReportsAllIssues(t *testing.T) {
	path := writePDF(t, "%PDF-1.4\n<< >>")

	var report Report
	if err := Scan(path, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) == 0 {
		t.Fatal("expected issues for a PDF missing every accessibility feature")
	}
	found := map[IssueCode]bool{}
	for _, i := range report.Issues {
		found[i] = true
	}
	if !found[IssueNoCatalog] || !found[IssueNoLang] {
		t.Fatalf("expected missing-catalog and missing-lang issues: %v", report.Issues)
	}
}

func TestMarshalJSONBufferTooSmall(t *testing.T) {
	r := &Report{PDFVersion: "1.7", Issues: []IssueCode{IssueNoLang}}
	if _, err := r.MarshalJSON(8); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
	body, err := r.MarshalJSON(0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"pdf_version":"1.7"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}
