package ocr

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

type fakeProvider struct{ name string }

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Scan(path string, report *Report) error {
	report.Provider = f.name
	return nil
}

func TestRegistryDefaultIsFirstRegistered(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(fakeProvider{"a"})
	_ = r.Register(fakeProvider{"b"})
	if r.Default().Name() != "a" {
		t.Fatalf("expected default provider 'a', got %q", r.Default().Name())
	}
	if p, ok := r.Lookup("b"); !ok || p.Name() != "b" {
		t.Fatalf("expected to look up 'b'")
	}
}

func TestRegistryReRegisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(fakeProvider{"a"})
	_ = r.Register(fakeProvider{"b"})
	_ = r.Register(fakeProvider{"a"})
	if r.Default().Name() != "a" {
		t.Fatalf("re-registering 'a' should not move it from first place")
	}
}

func TestRegistryEnforcesMax(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxProviders; i++ {
		if err := r.Register(fakeProvider{name: string(rune('a' + i))}); err != nil {
			t.Fatalf("unexpected error registering provider %d: %v", i, err)
		}
	}
	if err := r.Register(fakeProvider{name: "overflow"}); err == nil {
		t.Fatal("expected an error once the registry is full")
	}
}

func TestBuiltinProviderScoresInkTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	body := "%PDF-1.6\n<< /Subtype/Ink /InkList [1 2 3] >>"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewBuiltinProvider()
	var report Report
	if err := p.Scan(path, &report); err != nil {
		t.Fatal(err)
	}
	if report.PDFVersion != "1.6" {
		t.Fatalf("expected version 1.6, got %q", report.PDFVersion)
	}
	if report.TokenHits == 0 {
		t.Fatal("expected at least one token hit")
	}
	if report.HandwritingConf <= 0 || report.HandwritingConf >= 1 {
		t.Fatalf("expected confidence in (0,1), got %f", report.HandwritingConf)
	}
}

func TestTesseractProviderName(t *testing.T) {
	if NewTesseractProvider().Name() != "tesseract" {
		t.Fatal("expected provider name 'tesseract'")
	}
}

func TestTesseractProviderMissingToolsErrors(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err == nil {
		t.Skip("pdftoppm is present; missing-tool error path isn't exercised here")
	}
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	var report Report
	if err := NewTesseractProvider().Scan(path, &report); err == nil {
		t.Fatal("expected an error without pdftoppm on PATH")
	}
}

func TestBuiltinProviderNoTokensZeroConfidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\nplain text, nothing special"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewBuiltinProvider()
	var report Report
	if err := p.Scan(path, &report); err != nil {
		t.Fatal(err)
	}
	if report.TokenHits != 0 || report.HandwritingConf != 0 {
		t.Fatalf("expected zero hits/confidence, got hits=%d conf=%f", report.TokenHits, report.HandwritingConf)
	}
}
