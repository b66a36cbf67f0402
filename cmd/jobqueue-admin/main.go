// Command jobqueue-admin is an operator CLI over internal/queue: init a
// root, print aggregate stats, look up a single job's status, or list
// (read-only) jobs stuck in a locked state a crashed worker left behind
// (spec.md §4.2.1's "operator-level cleanup utility", given a listing
// command rather than a destructive one — see DESIGN.md).
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/cognusion/pdfqueue/internal/queue"
)

func usage() {
	fmt.Println("usage: jobqueue-admin <init|stats|status|reap> --root DIR [args...]")
	fmt.Println()
	fmt.Println("  init            create the four state directories under --root")
	fmt.Println("  stats           print aggregate queue statistics")
	fmt.Println("  status <uuid>   print the state and lock status of one job")
	fmt.Println("  reap            list locked artifacts that may be stuck (read-only)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	rest := os.Args[2:]

	switch cmd {
	case "init":
		runInit(rest)
	case "stats":
		runStats(rest)
	case "status":
		runStatus(rest)
	case "reap":
		runReap(rest)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Printf("unknown subcommand %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func rootFlag(fs *pflag.FlagSet) *string {
	return fs.String("root", "", "Job-queue root directory (required).")
}

func runInit(args []string) {
	fs := pflag.NewFlagSet("init", pflag.ExitOnError)
	root := rootFlag(fs)
	_ = fs.Parse(args)
	requireRoot(fs, *root)

	if err := queue.Init(*root); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Println("initialized", *root)
}

func runStats(args []string) {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	root := rootFlag(fs)
	_ = fs.Parse(args)
	requireRoot(fs, *root)

	stats, err := queue.CollectStats(*root)
	if err != nil && stats == nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("total files=%d locked=%d orphans=%d bytes=%d\n", stats.TotalFiles, stats.TotalLocked, stats.TotalOrphan, stats.TotalBytes)
	for _, st := range []queue.State{queue.Jobs, queue.PriorityJobs, queue.Complete, queue.Error} {
		ss := stats.States[st]
		if ss == nil {
			fmt.Printf("  %-14s (empty)\n", st)
			continue
		}
		fmt.Printf("  %-14s live_pdf=%d live_metadata=%d live_report=%d locked_pdf=%d locked_metadata=%d locked_report=%d orphans=%d bytes=%d\n",
			st, ss.LivePDF, ss.LiveMeta, ss.LiveReport, ss.LockedPDF, ss.LockedMeta, ss.LockedReport, ss.Orphans, ss.Bytes)
	}
}

func runStatus(args []string) {
	fs := pflag.NewFlagSet("status", pflag.ExitOnError)
	root := rootFlag(fs)
	_ = fs.Parse(args)
	requireRoot(fs, *root)

	if fs.NArg() != 1 {
		fmt.Println("usage: jobqueue-admin status --root DIR <uuid>")
		os.Exit(2)
	}
	uuid := fs.Arg(0)

	state, locked, err := queue.Status(*root, uuid)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("uuid=%s state=%s locked=%v\n", uuid, state, locked)
}

func runReap(args []string) {
	fs := pflag.NewFlagSet("reap", pflag.ExitOnError)
	root := rootFlag(fs)
	_ = fs.Parse(args)
	requireRoot(fs, *root)

	entries, err := queue.ListLocked(*root)
	if err != nil && entries == nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("no locked artifacts found")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) })
	fmt.Printf("%-4s %-32s %-13s %-9s %-20s %s\n", "", "uuid", "state", "kind", "locked since", "size")
	for i, e := range entries {
		fmt.Printf("%-4d %-32s %-13s %-9s %-20s %d\n", i+1, e.UUID, e.State, e.Kind, e.ModTime.Format("2006-01-02T15:04:05"), e.Size)
	}
	fmt.Println()
	fmt.Println("these are locked artifacts only; this command does not move or delete anything.")
}

func requireRoot(fs *pflag.FlagSet, root string) {
	if root == "" {
		fmt.Println("--root is required")
		fs.PrintDefaults()
		os.Exit(2)
	}
}
