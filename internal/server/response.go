package server

import (
	"fmt"
	"net"
)

// writeStatus writes a full HTTP/1.1 response with Connection: close, a
// Content-Type, and a correct Content-Length (spec.md §6).
func writeStatus(conn net.Conn, st status, contentType string, body []byte) {
	head := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		st, statusText[st], contentType, len(body),
	)
	_, _ = conn.Write([]byte(head))
	if len(body) > 0 {
		_, _ = conn.Write(body)
	}
}

func writeText(conn net.Conn, st status, body string) {
	writeStatus(conn, st, "text/plain", []byte(body))
}

func writeJSON(conn net.Conn, st status, body []byte) {
	writeStatus(conn, st, "application/json", body)
}
