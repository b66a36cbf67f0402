package redact

import "fmt"

// Report captures the outcome of one Redact call: the detected PDF
// version, the number of literal patterns in the plan, and the match
// and byte counters accumulated while scanning (spec.md §4.3.2).
type Report struct {
	PDFVersion     string `json:"pdf_version"`
	PatternCount   int    `json:"pattern_count"`
	MatchCount     int    `json:"match_count"`
	BytesRedacted  int64  `json:"bytes_redacted"`
	BytesScanned   int64  `json:"bytes_scanned"`
}

// MarshalJSON serialises the report as a flat JSON object, written by
// hand (rather than via encoding/json) to keep the wire shape exactly
// the flat object spec.md §4.3.2 describes and to match the
// fixed-field, no-reflection style the accessibility/OCR report
// serialisers use (spec.md §4.4).
func (r *Report) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(
		`{"pdf_version":%q,"pattern_count":%d,"match_count":%d,"bytes_redacted":%d,"bytes_scanned":%d}`,
		r.PDFVersion, r.PatternCount, r.MatchCount, r.BytesRedacted, r.BytesScanned,
	)), nil
}
