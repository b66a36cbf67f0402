// Package accessibility implements the streaming accessibility scanner:
// a token scanner over PDF bytes producing a bounded "missing feature"
// report. It is specified only at the interface level (spec.md §4.4) —
// a parser, not core engineering — grounded on the teacher's streaming
// read-in-chunks posture and the pack's detector.Validator shape
// (awslabs-ferret-scan).
package accessibility

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// IssueCode names a missing-feature finding the scanner can report.
type IssueCode string

const (
	IssueNoCatalog        IssueCode = "no_catalog"
	IssueNoStructTreeRoot IssueCode = "no_struct_tree_root"
	IssueNoLang           IssueCode = "no_lang"
	IssueNoMarkInfo       IssueCode = "no_mark_info"
	IssueNoAltText        IssueCode = "no_alt_text"
	IssueNoTags           IssueCode = "no_tags"
)

// maxIssues bounds the issue list the scanner reports (spec.md §4.4:
// "a bounded list of missing-feature issue codes").
const maxIssues = 32

// Report is the flat result of one accessibility scan.
type Report struct {
	PDFVersion    string      `json:"pdf_version"`
	HasCatalog    bool        `json:"has_catalog"`
	HasStructTree bool        `json:"has_struct_tree"`
	HasLang       bool        `json:"has_lang"`
	MarkedContent bool        `json:"marked_content"`
	HasAltText    bool        `json:"has_alt_text"`
	Issues        []IssueCode `json:"issues"`
	BytesScanned  int64       `json:"bytes_scanned"`
}

// token -> flag-setter table. Scanning is a single streamed pass looking
// for these byte tokens; it never attempts real PDF object parsing
// (spec.md §1 Non-goals).
var tokenFlags = map[string]func(r *Report){
	"/Catalog":       func(r *Report) { r.HasCatalog = true },
	"/StructTreeRoot": func(r *Report) { r.HasStructTree = true },
	"/Lang":          func(r *Report) { r.HasLang = true },
	"/MarkInfo":      func(r *Report) { r.MarkedContent = true },
	"/Alt":           func(r *Report) { r.HasAltText = true },
}

const chunkSize = 64 * 1024

// Scan streams path in chunks, recognising the PDF name/keyword tokens
// listed in tokenFlags, and fills report with the resulting flags plus a
// bounded list of missing-feature issue codes.
func Scan(path string, report *Report) error {
	f, err := os.Open(path) //#nosec G304 -- caller-controlled job path
	if err != nil {
		return fmt.Errorf("accessibility: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, chunkSize)
	peek, _ := r.Peek(63)
	if idx := bytes.Index(peek, []byte("%PDF-")); idx >= 0 && idx+7 < len(peek) {
		report.PDFVersion = string(peek[idx+5 : idx+8])
	}

	const overlap = 31 // oversized overlap window; longest token ("/StructTreeRoot") is 15 bytes, so 14 would suffice
	var carry []byte
	chunk := make([]byte, chunkSize)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			report.BytesScanned += int64(n)
			window := append(append([]byte(nil), carry...), chunk[:n]...)
			for tok, set := range tokenFlags {
				if bytes.Contains(window, []byte(tok)) {
					set(report)
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

	report.Issues = computeIssues(report)
	return nil
}

func computeIssues(r *Report) []IssueCode {
	issues := make([]IssueCode, 0, 5)
	add := func(code IssueCode) {
		if len(issues) < maxIssues {
			issues = append(issues, code)
		}
	}
	if !r.HasCatalog {
		add(IssueNoCatalog)
	}
	if !r.HasStructTree {
		add(IssueNoStructTreeRoot)
		add(IssueNoTags)
	}
	if !r.HasLang {
		add(IssueNoLang)
	}
	if !r.MarkedContent {
		add(IssueNoMarkInfo)
	}
	if !r.HasAltText {
		add(IssueNoAltText)
	}
	return issues
}

// MarshalJSON writes the report as a flat JSON object into a
// caller-supplied buffer size hint; callers that need growth retry with
// a doubled buffer (spec.md §4.4, §7 buffer_too_small), mirrored here by
// returning ErrBufferTooSmall when the encoded form exceeds maxLen.
func (r *Report) MarshalJSON(maxLen int) ([]byte, error) {
	issues := make([]byte, 0, len(r.Issues)*16)
	for i, code := range r.Issues {
		if i > 0 {
			issues = append(issues, ',')
		}
		issues = append(issues, '"')
		issues = append(issues, code...)
		issues = append(issues, '"')
	}
	out := []byte(fmt.Sprintf(
		`{"pdf_version":%q,"has_catalog":%t,"has_struct_tree":%t,"has_lang":%t,"marked_content":%t,"has_alt_text":%t,"issues":[%s],"bytes_scanned":%d}`,
		r.PDFVersion, r.HasCatalog, r.HasStructTree, r.HasLang, r.MarkedContent, r.HasAltText, issues, r.BytesScanned,
	))
	if maxLen > 0 && len(out) > maxLen {
		return nil, ErrBufferTooSmall
	}
	return out, nil
}

// ErrBufferTooSmall mirrors spec.md §7's buffer_too_small error kind for
// the accessibility report serialiser.
var ErrBufferTooSmall = fmt.Errorf("accessibility: buffer_too_small")
