// Command jobqueue-server runs the forking HTTP front door over a
// job-queue root (spec.md §4.5). Invoked normally it binds and accepts
// connections, re-exec'ing itself per connection (internal/server/
// fork_unix.go); invoked as a re-exec'd child (JOBQUEUE_CHILD=1 in the
// environment) it instead handles exactly the one connection it
// inherited on fd 3 and exits.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/spf13/pflag"

	"github.com/cognusion/pdfqueue/internal/queue"
	"github.com/cognusion/pdfqueue/internal/server"
)

var (
	bind  string
	port  int
	root  string
	token string
)

func init() {
	pflag.StringVar(&root, "root", "", "Job-queue root directory (required).")
	pflag.IntVar(&port, "port", 8089, "TCP port to listen on.")
	pflag.StringVar(&bind, "bind", "127.0.0.1", "Address to bind.")
	pflag.StringVar(&token, "token", "", "If set, require this bearer token on every endpoint but /health.")
	pflag.Parse()

	// Positional form: jobqueue-server <root> <port> [--bind ADDR] [--token TOK].
	if root == "" && pflag.NArg() > 0 {
		root = pflag.Arg(0)
	}
	if pflag.NArg() > 1 {
		if p, err := strconv.Atoi(pflag.Arg(1)); err == nil {
			port = p
		}
	}
}

func main() {
	if cfg, startUnix, counter, ok := server.IsChildInvocation(); ok {
		os.Exit(server.RunChild(cfg, startUnix, counter))
	}

	if root == "" {
		fmt.Println("jobqueue-server options:")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	outLog := log.New(colorable.NewColorableStdout(), "", log.LstdFlags)

	if err := queue.Init(root); err != nil {
		outLog.Fatalf("queue.Init(%s): %v", root, err)
	}

	cfg := server.DefaultConfig(root, port)
	cfg.Bind = bind
	cfg.Token = token

	banner := fmt.Sprintf("jobqueue-server starting: root=%s bind=%s:%d token-configured=%v", root, bind, port, token != "")
	if color.NoColor {
		outLog.Println(banner)
	} else {
		outLog.Println(color.CyanString(banner))
	}

	srv := server.New(cfg)
	if err := srv.ListenAndServe(); err != nil {
		outLog.Fatalf("ListenAndServe: %v", err)
	}
}
