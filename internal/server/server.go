package server

import (
	"log"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cognusion/go-sequence"
	"github.com/mattn/go-colorable"

	"github.com/cognusion/pdfqueue/internal/scan/ocr"
)

// Server is the forking HTTP front door over the job queue. It holds
// the only cross-process mutable state in the whole system: the active
// child counter, which is read from the SIGCHLD handler and so must be
// mutated exclusively through sync/atomic (spec.md §9).
type Server struct {
	Config         Config
	Start          time.Time
	Log            *log.Logger
	OCR            *ocr.Registry
	seq            *sequence.Seq
	activeChildren int32
}

// New builds a Server with the default OCR provider registered and a
// logger over a mattn/go-colorable stdout writer, like the worker
// binaries' outLog (grounded on the teacher's outLog/debugLog pair). The
// access-log lines it writes carry no color.
func New(cfg Config) *Server {
	reg := ocr.NewRegistry()
	_ = reg.Register(ocr.NewBuiltinProvider())

	return &Server{
		Config: cfg,
		Start:  time.Now(),
		Log:    log.New(colorable.NewColorableStdout(), "", log.LstdFlags),
		OCR:    reg,
		seq:    sequence.New(1),
	}
}

// uptime returns the duration since the server started, for /metrics.
func (s *Server) uptime() time.Duration { return time.Since(s.Start) }

// tryAcquireChildSlot atomically reserves one of MaxChildren active
// connection slots, returning false if the server is saturated (spec.md
// §4.5: "writes 503 ... when saturated").
func (s *Server) tryAcquireChildSlot() bool {
	for {
		cur := atomic.LoadInt32(&s.activeChildren)
		if int(cur) >= s.Config.MaxChildren {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.activeChildren, cur, cur+1) {
			return true
		}
	}
}

// releaseChildSlot is called from the SIGCHLD reaper once a forked
// child has been waited on; it never decrements past zero.
func (s *Server) releaseChildSlot() {
	for {
		cur := atomic.LoadInt32(&s.activeChildren)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&s.activeChildren, cur, cur-1) {
			return
		}
	}
}

// ListenAndServe binds cfg.Bind:cfg.Port and runs the accept loop,
// forking a child process (via re-exec, see fork_unix.go) per accepted
// connection until ctx-equivalent shutdown. It never returns on success;
// callers typically run it in the main goroutine of cmd/jobqueue-server.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.Config.Bind, itoa(s.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	installSIGCHLDReaper(s)

	s.Log.Printf("jobqueue-server listening on %s root=%s token-configured=%v", addr, s.Config.Root, s.Config.Token != "")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		s.acceptOne(conn)
	}
}

// acceptOne either forks a handler child for conn or, if the server is
// saturated, answers 503 and closes it directly (no child spawned).
func (s *Server) acceptOne(conn net.Conn) {
	if !s.tryAcquireChildSlot() {
		writeStatus(conn, status503, "text/plain", []byte("Service Unavailable\n"))
		conn.Close()
		return
	}

	if err := s.forkHandle(conn); err != nil {
		s.Log.Printf("fork failed, handling inline: %v", err)
		s.releaseChildSlot()
		start := time.Now()
		summary := handleConnection(conn, s.Config, s.OCR, s.Start, s.nextCounter())
		conn.Close()
		s.logAccess(summary, time.Since(start))
		return
	}
	// The child process owns conn now; the parent's copy of the fd must
	// still be closed so the child sees EOF/RST correctly on its own
	// lifecycle rather than keeping the socket alive via the parent.
	conn.Close()
}

func (s *Server) nextCounter() string {
	return s.seq.NextHashID()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RunChild is the entry point a re-exec'd child process runs: it
// inherits the accepted connection on fd 3 and handles exactly one
// request before exiting (spec.md §4.5, §9 fork note).
func RunChild(cfg Config, startUnix int64, counter string) int {
	f := os.NewFile(3, "conn")
	conn, err := net.FileConn(f)
	if err != nil {
		return 1
	}
	defer conn.Close()

	reg := ocr.NewRegistry()
	_ = reg.Register(ocr.NewBuiltinProvider())

	start := time.Unix(startUnix, 0)
	summary := handleConnection(conn, cfg, reg, start, counter)
	logAccessLine(log.New(os.Stdout, "", log.LstdFlags), summary, 0)
	return 0
}
