// Package server implements the forking HTTP front door over the job
// queue: request parsing with strict limits and timeouts, per-connection
// child processes, token authentication, multipart upload with job
// enqueue, path confinement, and metrics/panel endpoints (spec.md §4.5).
package server

import "time"

// Config is the server's immutable, process-wide configuration,
// equivalent to the teacher's CLI-flag-driven globals in rip.go but
// held as a struct instance per spec.md §9's "per-instance state"
// design note rather than package globals.
type Config struct {
	Root          string
	Bind          string
	Port          int
	Token         string
	MaxChildren   int
	ReadTimeout   time.Duration
	RequestLine   time.Duration
	HeaderTimeout time.Duration
	MaxHeaderSize int
	MaxHeaderLines int
	MaxUploadSize int64
}

// DefaultConfig returns the configuration spec.md §4.5.1/§6 specifies:
// 1s socket timeouts, 2s request-line / 5s header deadlines, 8 KiB
// header buffer, 50 header lines, 10 MiB upload cap, 32 active children.
func DefaultConfig(root string, port int) Config {
	return Config{
		Root:           root,
		Bind:           "127.0.0.1",
		Port:           port,
		MaxChildren:    32,
		ReadTimeout:    1 * time.Second,
		RequestLine:    2 * time.Second,
		HeaderTimeout:  5 * time.Second,
		MaxHeaderSize:  8 * 1024,
		MaxHeaderLines: 50,
		MaxUploadSize:  10 * 1024 * 1024,
	}
}
