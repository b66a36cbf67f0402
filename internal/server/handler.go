package server

import (
	"net"
	"time"

	"github.com/cognusion/pdfqueue/internal/scan/ocr"
)

// handleConnection owns the full per-connection lifecycle: set socket
// timeouts, parse one request, authorize, dispatch, answer, and return
// the access-log summary. It is called identically from the forked
// child entry point and, as a fallback, inline by the parent when fork
// itself fails (spec.md §4.5.1-§4.5.6).
func handleConnection(conn net.Conn, cfg Config, reg *ocr.Registry, start time.Time, counter string) accessSummary {
	began := time.Now()
	addr := clientAddr(conn)

	_ = conn.SetDeadline(time.Now().Add(cfg.HeaderTimeout + cfg.ReadTimeout + 2*time.Second))

	req, err := readRequest(conn, cfg)
	if err != nil {
		st := status500
		if he, ok := err.(*httpError); ok {
			st = he.Status
		}
		writeText(conn, st, statusText[st]+"\n")
		return accessSummary{ClientAddr: addr, Method: "-", Path: "-", Status: st, Latency: time.Since(began)}
	}

	st := dispatch(conn, cfg, reg, start, counter, req)
	return accessSummary{
		ClientAddr: addr,
		Method:     req.Method,
		Path:       sanitizePath(req.RawPath),
		Status:     st,
		Latency:    time.Since(began),
	}
}
