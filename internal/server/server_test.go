package server

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cognusion/pdfqueue/internal/queue"
	"github.com/cognusion/pdfqueue/internal/scan/ocr"
)

func testRegistry() *ocr.Registry {
	reg := ocr.NewRegistry()
	_ = reg.Register(ocr.NewBuiltinProvider())
	return reg
}

// doRequest drives handleConnection over an in-process net.Pipe, writing
// raw off the client side and collecting everything the handler writes
// back, without going through the fork boundary (spec.md §4.5 is
// specified independent of the process-per-connection mechanism).
func doRequest(t *testing.T, cfg Config, raw []byte) string {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		handleConnection(serverConn, cfg, testRegistry(), time.Now(), "t1")
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		_, _ = clientConn.Write(raw)
	}()

	var respBuf bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, _ = io.Copy(&respBuf, clientConn)
	}()

	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handleConnection did not finish in time")
	}
	_ = serverConn.Close()
	_ = clientConn.Close()
	<-writeDone
	<-copyDone

	return respBuf.String()
}

func statusLine(resp string) string {
	idx := strings.Index(resp, "\r\n")
	if idx < 0 {
		return resp
	}
	return resp[:idx]
}

func bodyOf(resp string) string {
	idx := strings.Index(resp, "\r\n\r\n")
	if idx < 0 {
		return ""
	}
	return resp[idx+4:]
}

func TestHealthEndpointBypassesAuth(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), 0)
	cfg.Token = "secret"
	resp := doRequest(t, cfg, []byte("GET /health HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got: %q", statusLine(resp))
	}
	if bodyOf(resp) != "ok\n" {
		t.Fatalf("unexpected body: %q", bodyOf(resp))
	}
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), 0)
	cfg.Token = "secret"
	resp := doRequest(t, cfg, []byte("GET /metrics HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 401") {
		t.Fatalf("expected 401, got: %q", statusLine(resp))
	}
}

func TestAuthorizedViaBearerToken(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(root, 0)
	cfg.Token = "secret"
	resp := doRequest(t, cfg, []byte("GET /metrics HTTP/1.1\r\nHost: x\r\nAuthorization: Bearer secret\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got: %q", statusLine(resp))
	}
}

func TestAuthorizedViaQueryToken(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(root, 0)
	cfg.Token = "secret"
	resp := doRequest(t, cfg, []byte("GET /metrics?token=secret HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got: %q", statusLine(resp))
	}
}

func TestUnknownPathIs404(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), 0)
	resp := doRequest(t, cfg, []byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 404") {
		t.Fatalf("expected 404, got: %q", statusLine(resp))
	}
}

func TestKnownPathWrongMethodIs405(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), 0)
	resp := doRequest(t, cfg, []byte("DELETE /claim HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 405") {
		t.Fatalf("expected 405, got: %q", statusLine(resp))
	}
}

// TestSubmitClaimStatusFlow exercises S5: submit a job over HTTP, claim
// it, and check its status, via the same queue package the CLI workers
// use.
func TestSubmitClaimStatusFlow(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(root, 0)

	pdfSrc := filepath.Join(root, "in.pdf")
	metaSrc := filepath.Join(root, "in.json")
	if err := os.WriteFile(pdfSrc, []byte("%PDF-1.7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaSrc, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	submitReq := "GET /submit?uuid=job1&pdf=in.pdf&metadata=in.json HTTP/1.1\r\nHost: x\r\n\r\n"
	resp := doRequest(t, cfg, []byte(submitReq))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("submit: expected 200, got %q (body %q)", statusLine(resp), bodyOf(resp))
	}

	resp = doRequest(t, cfg, []byte("GET /claim HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("claim: expected 200, got %q", statusLine(resp))
	}
	if !strings.Contains(bodyOf(resp), "job1") {
		t.Fatalf("claim body missing uuid: %q", bodyOf(resp))
	}

	resp = doRequest(t, cfg, []byte("GET /status?uuid=job1 HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.Contains(bodyOf(resp), "locked=1") {
		t.Fatalf("expected locked=1 after claim, got %q", bodyOf(resp))
	}
}

func TestRetrievePathTraversalRejected(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(root, 0)

	resp := doRequest(t, cfg, []byte("GET /retrieve?uuid=..%2f..%2fetc&state=jobs&kind=pdf HTTP/1.1\r\nHost: x\r\n\r\n"))
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 400") {
		t.Fatalf("expected 400 for invalid uuid, got %q", statusLine(resp))
	}
}

// TestUploadMultipart exercises S6: a multipart upload submits an OCR
// job (and a redaction job when requested) without touching the fork
// boundary.
func TestUploadMultipart(t *testing.T) {
	root := t.TempDir()
	if err := queue.Init(root); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(root, 0)

	const boundary = "X-TEST-BOUNDARY"
	var body bytes.Buffer
	body.WriteString("--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"pdf\"; filename=\"a.pdf\"\r\n\r\n")
	body.WriteString("%PDF-1.7\nhello\n")
	body.WriteString("\r\n--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"output_dir\"\r\n\r\n")
	body.WriteString("uploads")
	body.WriteString("\r\n--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"redact\"\r\n\r\n")
	body.WriteString("1")
	body.WriteString("\r\n--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"redactions\"\r\n\r\n")
	body.WriteString("SECRET")
	body.WriteString("\r\n--" + boundary + "--\r\n")

	var req bytes.Buffer
	req.WriteString("POST /upload HTTP/1.1\r\n")
	req.WriteString("Host: x\r\n")
	req.WriteString("Content-Type: multipart/form-data; boundary=" + boundary + "\r\n")
	req.WriteString("Content-Length: " + itoaSize(body.Len()) + "\r\n")
	req.WriteString("\r\n")
	req.Write(body.Bytes())

	resp := doRequest(t, cfg, req.Bytes())
	if !strings.HasPrefix(statusLine(resp), "HTTP/1.1 200") {
		t.Fatalf("expected 200, got %q (body %q)", statusLine(resp), bodyOf(resp))
	}
	respBody := bodyOf(resp)
	if !strings.Contains(respBody, `"ocr_uuid"`) {
		t.Fatalf("missing ocr_uuid in response: %q", respBody)
	}
	if !strings.Contains(respBody, `"redact"`) {
		t.Fatalf("expected a redact job to be queued: %q", respBody)
	}

	stats, err := queue.CollectStats(root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.States[queue.Jobs].LivePDF != 2 {
		t.Fatalf("expected 2 live pdfs queued (ocr + redact), got %d", stats.States[queue.Jobs].LivePDF)
	}
}

func itoaSize(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
