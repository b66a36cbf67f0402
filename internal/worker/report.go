package worker

import (
	"errors"
	"fmt"
	"os"

	"github.com/cognusion/pdfqueue/internal/queue"
	"github.com/cognusion/pdfqueue/internal/redact"
	"github.com/cognusion/pdfqueue/internal/scan/accessibility"
	"github.com/cognusion/pdfqueue/internal/scan/ocr"
)

// MarshalWithRetry calls marshal with a growing buffer-size hint,
// doubling from 256 bytes up to 8 attempts, the "caller retries with
// doubled buffer" contract spec.md §7 gives the buffer_too_small kind
// for the accessibility/OCR report serialisers.
func MarshalWithRetry(marshal func(maxLen int) ([]byte, error)) ([]byte, error) {
	size := 256
	var lastErr error
	for attempt := 0; attempt < 8; attempt++ {
		b, err := marshal(size)
		if err == nil {
			return b, nil
		}
		lastErr = err
		size *= 2
	}
	return nil, lastErr
}

// WriteErrorReport writes the compact error-metadata JSON a worker
// leaves behind when it fails partway through (spec.md §7: `{"error":
// "<failure-kind>","detail":"<result-string>"}`), as the report
// artifact of uuid's locked job, then finalizes the job from "from"
// into queue.Error. The worker binaries count such a job as errored and
// keep polling.
func WriteErrorReport(root, uuid string, from queue.State, procErr error) error {
	reportPath, err := queue.Path(root, from, queue.Report, uuid, true)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		`{"error":%q,"detail":"%s"}`,
		failureKind(procErr), jsonEscapeString(procErr.Error()),
	)
	if werr := os.WriteFile(reportPath, []byte(body), 0o644); werr != nil {
		return werr
	}
	return queue.Finalize(root, uuid, from, queue.Error)
}

// failureKind maps procErr to one of spec.md §7's failure-kind strings
// ("invalid_argument", "not_found", "io", "parse", "buffer_too_small"),
// unwrapping the typed errors each engine package returns. Errors this
// package doesn't recognize default to "io", matching queue.KindOf's
// own default for errors that didn't originate in that package.
func failureKind(procErr error) string {
	var qe *queue.OpError
	if errors.As(procErr, &qe) {
		return qe.Kind.String()
	}
	var re *redact.Error
	if errors.As(procErr, &re) {
		return re.Kind.String()
	}
	if errors.Is(procErr, ocr.ErrBufferTooSmall) || errors.Is(procErr, accessibility.ErrBufferTooSmall) {
		return "buffer_too_small"
	}
	return "io"
}

func jsonEscapeString(s string) string {
	b := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}
