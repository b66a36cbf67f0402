package server

import (
	"log"
	"net"
	"strings"
	"time"
)

// accessSummary captures the one line logged after every request
// (spec.md §4.5.6): client address, method, sanitized path, status,
// latency.
type accessSummary struct {
	ClientAddr string
	Method     string
	Path       string
	Status     status
	Latency    time.Duration
}

// sanitizePath strips the query string and replaces non-printable bytes
// with '?' for safe logging.
func sanitizePath(raw string) string {
	path, _ := splitQuery(raw)
	b := []byte(path)
	for i, c := range b {
		if c < 0x20 || c >= 0x7f {
			b[i] = '?'
		}
	}
	return string(b)
}

func logAccessLine(l *log.Logger, s accessSummary, _ int) {
	l.Printf("%s %s %s %d %dms", s.ClientAddr, s.Method, s.Path, s.Status, s.Latency.Milliseconds())
}

func (s *Server) logAccess(summary accessSummary, latency time.Duration) {
	summary.Latency = latency
	logAccessLine(s.Log, summary, 0)
}

func clientAddr(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "-"
	}
	s := addr.String()
	if strings.HasPrefix(s, "[::1]") {
		return "127.0.0.1" + s[len("[::1]"):]
	}
	return s
}
