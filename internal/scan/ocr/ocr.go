// Package ocr implements the streaming OCR heuristic scanner behind a
// pluggable, named provider registry (spec.md §4.4). Like the
// accessibility scanner, OCR is specified only at the interface level —
// the built-in provider is a coarse token-weighting heuristic, not real
// OCR; grounded on the teacher's pdfToTiff/tesseract pipeline stage,
// which is itself an external, swappable step ripfix shells out to.
package ocr

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// Report is the flat result of one OCR scan.
type Report struct {
	PDFVersion          string  `json:"pdf_version"`
	Provider            string  `json:"provider"`
	HandwritingConf     float64 `json:"handwriting_confidence"`
	TokenHits           int     `json:"token_hits"`
	BytesScanned        int64   `json:"bytes_scanned"`
}

// MarshalJSON writes the report as a flat JSON object; maxLen <= 0 means
// unbounded, otherwise exceeding it yields ErrBufferTooSmall, mirroring
// the doubled-buffer retry contract of spec.md §4.4/§7.
func (r *Report) MarshalJSON(maxLen int) ([]byte, error) {
	out := []byte(fmt.Sprintf(
		`{"pdf_version":%q,"provider":%q,"handwriting_confidence":%.4f,"token_hits":%d,"bytes_scanned":%d}`,
		r.PDFVersion, r.Provider, r.HandwritingConf, r.TokenHits, r.BytesScanned,
	))
	if maxLen > 0 && len(out) > maxLen {
		return nil, ErrBufferTooSmall
	}
	return out, nil
}

// ErrBufferTooSmall mirrors spec.md §7's buffer_too_small error kind.
var ErrBufferTooSmall = fmt.Errorf("ocr: buffer_too_small")

// Provider is a named OCR strategy. Scan streams path in chunks and
// fills report.
type Provider interface {
	Name() string
	Scan(path string, report *Report) error
}

// maxProviders bounds the provider registry (spec.md §4.4: "bounded to
// 16 entries").
const maxProviders = 16

// Registry is a bounded, ordered, named provider lookup table. The
// default provider is the first one registered.
type Registry struct {
	order []string
	byName map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds provider under its own Name(). Registering a name twice
// replaces the existing entry without changing registration order or
// the default provider. Returns an error once maxProviders distinct
// names would be exceeded.
func (r *Registry) Register(p Provider) error {
	name := p.Name()
	if _, exists := r.byName[name]; !exists && len(r.order) >= maxProviders {
		return fmt.Errorf("ocr: provider registry full (max %d)", maxProviders)
	}
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = p
	return nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Default returns the first-registered provider, or nil if the registry
// is empty.
func (r *Registry) Default() Provider {
	if len(r.order) == 0 {
		return nil
	}
	return r.byName[r.order[0]]
}

// builtinTokenWeights assigns a coarse handwriting-likelihood weight to
// PDF tokens that correlate with ink annotations or signature fields
// (spec.md §4.4: "/Subtype/Ink", "InkList", "Signature").
var builtinTokenWeights = map[string]float64{
	"/Subtype/Ink": 3.0,
	"InkList":      2.0,
	"Signature":    1.0,
	"/Sig":         1.0,
}

const chunkSize = 64 * 1024

// builtinProvider is the default-first-registered OCR provider: a
// coarse "handwriting confidence" score from counting weighted token
// hits, streamed over the file in fixed-size chunks.
type builtinProvider struct{}

// NewBuiltinProvider returns the built-in heuristic OCR provider.
func NewBuiltinProvider() Provider { return builtinProvider{} }

func (builtinProvider) Name() string { return "builtin" }

func (builtinProvider) Scan(path string, report *Report) error {
	f, err := os.Open(path) //#nosec G304 -- caller-controlled job path
	if err != nil {
		return fmt.Errorf("ocr: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, chunkSize)
	peek, _ := r.Peek(63)
	if idx := bytes.Index(peek, []byte("%PDF-")); idx >= 0 && idx+7 < len(peek) {
		report.PDFVersion = string(peek[idx+5 : idx+8])
	}

	const overlap = 11 // longest token ("/Subtype/Ink") - 1
	var carry []byte
	var score float64
	var hits int
	chunk := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			report.BytesScanned += int64(n)
			window := append(append([]byte(nil), carry...), chunk[:n]...)
			for tok, w := range builtinTokenWeights {
				count := bytes.Count(window, []byte(tok))
				if count > 0 {
					hits += count
					score += w * float64(count)
				}
			}
			if len(window) > overlap {
				carry = append([]byte(nil), window[len(window)-overlap:]...)
			} else {
				carry = window
			}
		}
		if rerr != nil {
			break
		}
	}

	report.Provider = "builtin"
	report.TokenHits = hits
	// Squash the raw weighted score into a bounded [0,1] confidence via a
	// simple saturating curve; a handful of hits already reads as high
	// confidence, consistent with this being a coarse heuristic.
	report.HandwritingConf = score / (score + 5.0)
	return nil
}
