package server

import (
	"bytes"
	"fmt"
	"strings"
)

// multipartPart is one section of a multipart/form-data body.
type multipartPart struct {
	Name     string
	Filename string
	Body     []byte
}

// parseBoundary extracts the boundary token from a Content-Type header
// value of the form "multipart/form-data; boundary=...." (spec.md
// §4.5.5).
func parseBoundary(contentType string) (string, bool) {
	if !strings.HasPrefix(lowerASCII(contentType), "multipart/form-data") {
		return "", false
	}
	idx := strings.Index(contentType, "boundary=")
	if idx < 0 {
		return "", false
	}
	b := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(b, ';'); semi >= 0 {
		b = b[:semi]
	}
	b = strings.Trim(b, "\"")
	b = trimSpace(b)
	if b == "" {
		return "", false
	}
	return b, true
}

// parseMultipart splits body into its parts given boundary, per the
// sequential grammar of spec.md §4.5.5: each part starts with
// "--<boundary>\r\n", then headers terminated by "\r\n\r\n", then a body
// up to the next "--<boundary>".
func parseMultipart(body []byte, boundary string) ([]multipartPart, error) {
	delim := []byte("--" + boundary)
	var parts []multipartPart

	idx := bytes.Index(body, delim)
	if idx < 0 {
		return nil, fmt.Errorf("no boundary found")
	}
	rest := body[idx+len(delim):]

	for {
		if bytes.HasPrefix(rest, []byte("--")) {
			break // final boundary
		}
		if bytes.HasPrefix(rest, []byte("\r\n")) {
			rest = rest[2:]
		}

		headerEnd := bytes.Index(rest, []byte("\r\n\r\n"))
		if headerEnd < 0 {
			return nil, fmt.Errorf("part missing header terminator")
		}
		headerBlock := rest[:headerEnd]
		bodyStart := rest[headerEnd+4:]

		nextIdx := bytes.Index(bodyStart, delim)
		if nextIdx < 0 {
			return nil, fmt.Errorf("part missing closing boundary")
		}
		partBody := bodyStart[:nextIdx]
		partBody = bytes.TrimSuffix(partBody, []byte("\r\n"))

		name, filename := parseContentDisposition(string(headerBlock))
		parts = append(parts, multipartPart{Name: name, Filename: filename, Body: partBody})

		rest = bodyStart[nextIdx+len(delim):]
	}
	return parts, nil
}

// parseContentDisposition extracts name="..." and filename="..." from a
// part's headers.
func parseContentDisposition(headers string) (name, filename string) {
	for _, line := range strings.Split(headers, "\r\n") {
		n, v, ok := splitHeader(line)
		if !ok || lowerASCII(n) != "content-disposition" {
			continue
		}
		name = extractQuoted(v, "name")
		filename = extractQuoted(v, "filename")
	}
	return name, filename
}

func extractQuoted(s, key string) string {
	marker := key + "=\""
	idx := strings.Index(s, marker)
	if idx < 0 {
		return ""
	}
	start := idx + len(marker)
	end := strings.IndexByte(s[start:], '"')
	if end < 0 {
		return ""
	}
	return s[start : start+end]
}
