package redact

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// chunkSize is the fixed read size the streaming scanner uses; spec.md
// §4.3 requires at least 32 KiB.
const chunkSize = 64 * 1024

// versionProbeLen is how many leading bytes are inspected for the
// "%PDF-<digit>.<digit>" version marker (spec.md §4.3).
const versionProbeLen = 63

// Redact streams input to output, applying plan's literal patterns and
// the always-on PII matchers, filling report with the resulting counts.
// It never loads the whole file into memory: input is read in fixed-size
// chunks with a carry-over buffer at least as long as the longest literal
// pattern or PII match minus one, so a literal or PII number that
// straddles a chunk boundary is still found (spec.md §4.3). The SSN label
// lookbehind and the leading word-boundary check see only the bytes kept
// in that carry-over buffer, not output already written.
func Redact(inputPath, outputPath string, plan *Plan, report *Report) error {
	const op = "Redact"
	if plan == nil {
		plan = &Plan{}
	}
	if len(plan.Redactions) > MaxPatterns {
		return newErr(op, KindInvalidArgument, fmt.Errorf("plan carries %d patterns, max %d", len(plan.Redactions), MaxPatterns))
	}

	in, err := os.Open(inputPath) //#nosec G304 -- caller-controlled job path
	if err != nil {
		return newErr(op, KindIO, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return newErr(op, KindIO, err)
	}

	reader := bufio.NewReaderSize(in, chunkSize)
	version, ok := detectVersion(reader)
	if !ok {
		return newErr(op, KindParse, fmt.Errorf("missing %%PDF-n.n version marker in first %d bytes", versionProbeLen))
	}

	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode()) //#nosec G304
	if err != nil {
		return newErr(op, KindIO, err)
	}
	defer out.Close()

	overlap := plan.longestPattern()
	if maxPIILen-1 > overlap {
		overlap = maxPIILen - 1
	}

	var (
		carry         []byte
		matchCount    int
		bytesRedacted int64
		bytesScanned  int64
		chunk         = make([]byte, chunkSize)
	)

	for {
		n, rerr := reader.Read(chunk)
		if n > 0 {
			bytesScanned += int64(n)
		}
		eof := rerr == io.EOF
		if rerr != nil && !eof {
			return newErr(op, KindIO, rerr)
		}

		window := append(append([]byte(nil), carry...), chunk[:n]...)

		processable := len(window) - overlap
		if eof || processable < 0 {
			processable = len(window)
		}

		redactWindow(window, processable, plan, &matchCount, &bytesRedacted)

		if _, werr := out.Write(window[:processable]); werr != nil {
			return newErr(op, KindIO, werr)
		}
		carry = append([]byte(nil), window[processable:]...)

		if eof {
			break
		}
	}

	if err := out.Sync(); err != nil {
		return newErr(op, KindIO, err)
	}

	report.PDFVersion = version
	report.PatternCount = len(plan.Redactions)
	report.MatchCount = matchCount
	report.BytesRedacted = bytesRedacted
	report.BytesScanned = bytesScanned
	return nil
}

// redactWindow scans window[:processable] left to right, trying literal
// patterns (in plan order) then the PII matchers at each position. On a
// match it overwrites the matched bytes in place with 'X' and jumps past
// the match (spec.md §4.3 step 3).
func redactWindow(window []byte, processable int, plan *Plan, matchCount *int, bytesRedacted *int64) {
	pos := 0
	for pos < processable {
		matched := 0
		for _, pat := range plan.Redactions {
			if len(pat) == 0 {
				continue
			}
			if pos+len(pat) <= len(window) && bytes.Equal(window[pos:pos+len(pat)], pat) {
				matched = len(pat)
				break
			}
		}
		if matched == 0 {
			matched = matchPII(window, pos)
		}
		if matched > 0 {
			for i := 0; i < matched; i++ {
				window[pos+i] = 'X'
			}
			*matchCount++
			*bytesRedacted += int64(matched)
			pos += matched
			continue
		}
		pos++
	}
}

// detectVersion peeks the first versionProbeLen bytes of r (without
// consuming them) looking for "%PDF-<digit>.<digit>" anywhere in that
// window, returning the matched "major.minor" string.
func detectVersion(r *bufio.Reader) (string, bool) {
	peek, _ := r.Peek(versionProbeLen)
	const marker = "%PDF-"
	idx := bytes.Index(peek, []byte(marker))
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker)
	if start+3 > len(peek) {
		return "", false
	}
	major, dot, minor := peek[start], peek[start+1], peek[start+2]
	if !isDigit(major) || dot != '.' || !isDigit(minor) {
		return "", false
	}
	return fmt.Sprintf("%c.%c", major, minor), true
}
