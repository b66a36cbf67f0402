package server

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

// Environment variables used to hand a forked child its configuration.
// Args are avoided deliberately: they show up in `ps`, and the token is
// a secret (spec.md §4.5.2).
const (
	EnvChildMarker = "JOBQUEUE_CHILD"
	EnvRoot        = "JOBQUEUE_CHILD_ROOT"
	EnvToken       = "JOBQUEUE_CHILD_TOKEN"
	EnvStartUnix   = "JOBQUEUE_CHILD_START"
	EnvCounter     = "JOBQUEUE_CHILD_COUNTER"
)

// forkHandle spawns a child copy of this binary to handle conn,
// inheriting the connection socket as fd 3. Re-exec-on-accept is the
// idiomatic Go substitute for fork(): the Go runtime cannot safely
// fork() a multi-threaded process and keep running Go code in the
// child, so each accepted connection is instead handed to a fresh
// process image via StartProcess (itself a clone+exec under the hood).
// This preserves the fault-isolation and per-connection resource limits
// spec.md §4.5/§9 ask a true fork() model to provide.
func (s *Server) forkHandle(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("connection is not a *net.TCPConn")
	}
	f, err := tc.File() // dup's the socket fd; f outlives conn.Close()
	if err != nil {
		return err
	}
	defer f.Close()

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	env := append(os.Environ(),
		EnvChildMarker+"=1",
		EnvRoot+"="+s.Config.Root,
		EnvToken+"="+s.Config.Token,
		EnvStartUnix+"="+strconv.FormatInt(s.Start.Unix(), 10),
		EnvCounter+"="+s.nextCounter(),
	)

	procAttr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, f},
	}
	proc, err := os.StartProcess(exe, []string{exe}, procAttr)
	if err != nil {
		return err
	}
	// proc.Wait() is deliberately not called here: reaping happens
	// asynchronously off the SIGCHLD handler below so the accept loop
	// is never blocked on a child's lifetime (spec.md §5).
	_ = proc
	return nil
}

// installSIGCHLDReaper registers the process-wide SIGCHLD handler that
// is the only place the active-child counter is decremented. It drains
// every exited child with WNOHANG on each signal, since multiple
// children may exit before the handler gets scheduled.
func installSIGCHLDReaper(s *Server) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGCHLD)
	go func() {
		for range ch {
			for {
				var ws syscall.WaitStatus
				pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
				if pid <= 0 || err != nil {
					break
				}
				s.releaseChildSlot()
			}
		}
	}()
}

// IsChildInvocation reports whether this process was re-exec'd to
// handle a single inherited connection, and if so returns its config.
func IsChildInvocation() (cfg Config, startUnix int64, counter string, ok bool) {
	if os.Getenv(EnvChildMarker) != "1" {
		return Config{}, 0, "", false
	}
	cfg = DefaultConfig(os.Getenv(EnvRoot), 0)
	cfg.Token = os.Getenv(EnvToken)
	startUnix, _ = strconv.ParseInt(os.Getenv(EnvStartUnix), 10, 64)
	counter = os.Getenv(EnvCounter)
	return cfg, startUnix, counter, true
}
