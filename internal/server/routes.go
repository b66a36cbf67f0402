package server

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cognusion/pdfqueue/internal/queue"
	"github.com/cognusion/pdfqueue/internal/redact"
	"github.com/cognusion/pdfqueue/internal/scan/ocr"
)

// dispatch routes a parsed request to its handler, enforcing the
// auth requirement of spec.md §4.5.2 on every endpoint except
// GET /health, and returns the status code that was written.
func dispatch(conn net.Conn, cfg Config, reg *ocr.Registry, start time.Time, counter string, req *Request) status {
	_, query := splitQuery(req.RawPath)
	q := parseQuery(query)

	if req.Method == "GET" && req.Path == "/health" {
		writeText(conn, status200, "ok\n")
		return status200
	}

	if !authorized(cfg, req, q) {
		writeText(conn, status401, "unauthorized\n")
		return status401
	}

	switch {
	case req.Method == "GET" && req.Path == "/metrics":
		return handleMetrics(conn, cfg, start)
	case req.Method == "GET" && (req.Path == "/" || req.Path == "/panel"):
		return handlePanel(conn, q)
	case req.Method == "GET" && req.Path == "/submit":
		return handleSubmit(conn, cfg, q)
	case req.Method == "POST" && req.Path == "/upload":
		return handleUpload(conn, cfg, req, counter)
	case req.Method == "GET" && req.Path == "/claim":
		return handleClaim(conn, cfg, q)
	case req.Method == "GET" && req.Path == "/release":
		return handleRelease(conn, cfg, q)
	case req.Method == "GET" && req.Path == "/finalize":
		return handleFinalize(conn, cfg, q)
	case req.Method == "GET" && req.Path == "/move":
		return handleMove(conn, cfg, q)
	case req.Method == "GET" && req.Path == "/status":
		return handleStatus(conn, cfg, q)
	case req.Method == "GET" && req.Path == "/retrieve":
		return handleRetrieve(conn, cfg, q)
	default:
		if !isKnownPath(req.Path) {
			writeText(conn, status404, "not found\n")
			return status404
		}
		writeText(conn, status405, "method not allowed\n")
		return status405
	}
}

func isKnownPath(p string) bool {
	switch p {
	case "/health", "/metrics", "/", "/panel", "/submit", "/upload",
		"/claim", "/release", "/finalize", "/move", "/status", "/retrieve":
		return true
	default:
		return false
	}
}

func queueErrStatus(err error) status {
	switch queue.KindOf(err) {
	case queue.KindInvalidArgument:
		return status400
	case queue.KindNotFound:
		return status404
	default:
		return status500
	}
}

func handleSubmit(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	pdfRel := q["pdf"]
	metaRel := q["metadata"]
	priority := truthy(q["priority"])

	if uuid == "" || pdfRel == "" || metaRel == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid/pdf/metadata\n")
		return status400
	}

	pdfAbs, err := confine(cfg.Root, pdfRel)
	if err != nil {
		return respondConfinement(conn, err)
	}
	metaAbs, err := confine(cfg.Root, metaRel)
	if err != nil {
		return respondConfinement(conn, err)
	}

	if err := queue.Submit(cfg.Root, uuid, pdfAbs, metaAbs, priority); err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	writeText(conn, status200, "submitted\n")
	return status200
}

func handleClaim(conn net.Conn, cfg Config, q map[string]string) status {
	prefer := truthy(q["prefer_priority"])
	id, state, err := queue.ClaimNext(cfg.Root, prefer)
	if err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	writeText(conn, status200, id+" "+string(state)+"\n")
	return status200
}

func handleRelease(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	state := queue.State(q["state"])
	if uuid == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid\n")
		return status400
	}
	if err := queue.Release(cfg.Root, uuid, state); err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	writeText(conn, status200, "released\n")
	return status200
}

func handleFinalize(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	from := queue.State(q["from"])
	to := queue.State(q["to"])
	if uuid == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid\n")
		return status400
	}
	if err := queue.Finalize(cfg.Root, uuid, from, to); err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	writeText(conn, status200, "finalized\n")
	return status200
}

func handleMove(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	from := queue.State(q["from"])
	to := queue.State(q["to"])
	if uuid == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid\n")
		return status400
	}
	if err := queue.Move(cfg.Root, uuid, from, to); err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	writeText(conn, status200, "moved\n")
	return status200
}

func handleStatus(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	if uuid == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid\n")
		return status400
	}
	state, locked, err := queue.Status(cfg.Root, uuid)
	if err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}
	lockedInt := 0
	if locked {
		lockedInt = 1
	}
	writeText(conn, status200, "state="+string(state)+" locked="+strconv.Itoa(lockedInt)+"\n")
	return status200
}

func handleRetrieve(conn net.Conn, cfg Config, q map[string]string) status {
	uuid := q["uuid"]
	state := queue.State(q["state"])
	kind := q["kind"]
	if uuid == "" || !queue.ValidUUID(uuid) {
		writeText(conn, status400, "missing or invalid uuid\n")
		return status400
	}

	var qk queue.Kind
	var contentType string
	switch kind {
	case "pdf":
		qk, contentType = queue.PDF, "application/pdf"
	case "metadata":
		qk, contentType = queue.Metadata, "application/json"
	case "report":
		qk, contentType = queue.Report, "text/html"
	default:
		writeText(conn, status400, "invalid kind\n")
		return status400
	}

	path, err := queue.Path(cfg.Root, state, qk, uuid, false)
	if err != nil {
		writeText(conn, status400, err.Error()+"\n")
		return status400
	}
	rel, rerr := filepath.Rel(cfg.Root, path)
	if rerr != nil {
		writeText(conn, status500, "internal error\n")
		return status500
	}
	canonical, cerr := confine(cfg.Root, rel)
	if cerr != nil {
		return respondConfinement(conn, cerr)
	}

	data, rerr2 := os.ReadFile(canonical) //#nosec G304 -- confined above
	if rerr2 != nil {
		if os.IsNotExist(rerr2) {
			writeText(conn, status404, "not found\n")
			return status404
		}
		writeText(conn, status500, "internal error\n")
		return status500
	}
	writeStatus(conn, status200, contentType, data)
	return status200
}

func handleMetrics(conn net.Conn, cfg Config, start time.Time) status {
	stats, err := queue.CollectStats(cfg.Root)
	if err != nil && stats == nil {
		writeText(conn, status500, "internal error\n")
		return status500
	}
	body := buildMetricsJSON(cfg, start, stats)
	writeJSON(conn, status200, body)
	return status200
}

func handlePanel(conn net.Conn, q map[string]string) status {
	writeStatus(conn, status200, "text/html", []byte(panelHTML(q["token"])))
	return status200
}

func respondConfinement(conn net.Conn, err error) status {
	ce, ok := err.(*confinementError)
	if !ok {
		writeText(conn, status500, "internal error\n")
		return status500
	}
	writeText(conn, ce.status, statusText[ce.status]+"\n")
	return ce.status
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// handleUpload implements the multipart upload endpoint of spec.md
// §4.5.5: required "pdf" file part, optional output_dir/label/priority/
// redact/redactions text parts, generates the queue uuid(s), writes the
// PDF + metadata JSON under <root>/<output_dir>/, submits an OCR job,
// and — if redact is truthy and redactions non-empty — a second
// redaction job sharing the same PDF file.
func handleUpload(conn net.Conn, cfg Config, req *Request, counter string) status {
	boundary, ok := parseBoundary(req.ContentType)
	if !ok {
		writeText(conn, status400, "missing multipart boundary\n")
		return status400
	}
	parts, err := parseMultipart(req.Body, boundary)
	if err != nil {
		writeText(conn, status400, "malformed multipart body: "+err.Error()+"\n")
		return status400
	}

	var pdfBody []byte
	fields := map[string]string{}
	havePDF := false
	for _, p := range parts {
		if p.Name == "pdf" {
			pdfBody = p.Body
			havePDF = true
			continue
		}
		fields[p.Name] = string(trimBytesSpace(p.Body))
	}
	if !havePDF || len(pdfBody) == 0 {
		writeText(conn, status400, "missing or empty pdf part\n")
		return status400
	}

	outputDir := fields["output_dir"]
	if outputDir == "" {
		outputDir = "."
	}
	if !isSafeRelPath(outputDir) && outputDir != "." {
		writeText(conn, status400, "unsafe output_dir\n")
		return status400
	}
	dirAbs := cfg.Root
	if outputDir != "." {
		d, cerr := confineForCreate(cfg.Root, outputDir)
		if cerr != nil {
			return respondConfinement(conn, cerr)
		}
		dirAbs = d
	}
	if err := os.MkdirAll(dirAbs, 0o750); err != nil {
		writeText(conn, status500, "could not create output_dir\n")
		return status500
	}

	label := fields["label"]
	if label == "" {
		label = "upload"
	}
	priority := truthy(fields["priority"])

	pdfPath := filepath.Join(dirAbs, "upload-"+generateUUID(label, counter)+".pdf")
	if err := os.WriteFile(pdfPath, pdfBody, 0o644); err != nil {
		writeText(conn, status500, "could not write uploaded pdf\n")
		return status500
	}
	defer os.Remove(pdfPath) // submit copies it into the queue; the staging copy is not needed after

	ocrUUID := generateUUID(label, counter)
	ocrMetaPath := filepath.Join(dirAbs, ocrUUID+".meta.json")
	ocrMeta := `{"output_dir":"` + jsonEscape(outputDir) + `"}`
	if err := os.WriteFile(ocrMetaPath, []byte(ocrMeta), 0o644); err != nil {
		writeText(conn, status500, "could not write ocr metadata\n")
		return status500
	}
	defer os.Remove(ocrMetaPath)

	if err := queue.Submit(cfg.Root, ocrUUID, pdfPath, ocrMetaPath, priority); err != nil {
		st := queueErrStatus(err)
		writeText(conn, st, err.Error()+"\n")
		return st
	}

	resp := `{"ocr_uuid":"` + jsonEscape(ocrUUID) + `"`

	wantsRedact := truthy(fields["redact"])
	redactionsField := trimSpace(fields["redactions"])
	if wantsRedact && redactionsField != "" {
		redactUUID := generateUUID(label, counter+"r")
		patterns := splitRedactions(redactionsField)
		if len(patterns) > redact.MaxPatterns {
			patterns = patterns[:redact.MaxPatterns]
		}
		redactMetaPath := filepath.Join(dirAbs, redactUUID+".meta.json")
		redactMeta := `{"output_dir":"` + jsonEscape(outputDir) + `","redactions":[` + jsonStringArray(patterns) + `]}`
		if err := os.WriteFile(redactMetaPath, []byte(redactMeta), 0o644); err != nil {
			writeText(conn, status500, "could not write redaction metadata\n")
			return status500
		}
		defer os.Remove(redactMetaPath)

		if err := queue.Submit(cfg.Root, redactUUID, pdfPath, redactMetaPath, priority); err != nil {
			st := queueErrStatus(err)
			writeText(conn, st, err.Error()+"\n")
			return st
		}
		resp += `,"expected":{"redact":{"uuid":"` + jsonEscape(redactUUID) + `"}}`
	}
	resp += `}`

	writeJSON(conn, status200, []byte(resp))
	return status200
}

// generateUUID builds a uuid of the form <label>-<unix-epoch-sec>-<pid>-<counter>
// (spec.md §4.5.5), falling back to "upload" if label is empty.
func generateUUID(label, counter string) string {
	if label == "" {
		label = "upload"
	}
	label = sanitizeLabel(label)
	return label + "-" + strconv.FormatInt(time.Now().Unix(), 10) + "-" + strconv.Itoa(os.Getpid()) + "-" + counter
}

func sanitizeLabel(label string) string {
	b := make([]byte, 0, len(label))
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b = append(b, c)
		}
	}
	if len(b) == 0 {
		return "upload"
	}
	if len(b) > 64 {
		b = b[:64]
	}
	return string(b)
}

// splitRedactions splits a text field on commas/newlines and trims
// whitespace from each entry, dropping any that end up empty (spec.md
// §4.5.5).
func splitRedactions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = trimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func jsonEscape(s string) string {
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

func jsonStringArray(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(jsonEscape(it))
		b.WriteByte('"')
	}
	return b.String()
}

func trimBytesSpace(b []byte) []byte {
	i, j := 0, len(b)
	isSpace := func(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}
