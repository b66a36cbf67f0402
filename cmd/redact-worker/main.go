// Command redact-worker claims redaction jobs from a job-queue root,
// streams each job's PDF through internal/redact against its metadata's
// redaction plan, replaces the PDF in place with the redacted bytes,
// and finalizes to complete/ (with a report) or error/, per spec.md
// §4.3 and §7.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cognusion/go-racket"
	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/spf13/pflag"

	"github.com/cognusion/pdfqueue/internal/queue"
	"github.com/cognusion/pdfqueue/internal/redact"
	"github.com/cognusion/pdfqueue/internal/worker"
)

var (
	root           string
	preferPriority bool
	flockFile      string
	skipFlock      bool
	maxP           int
	useBar         bool
	logFile        string
	debug          bool
	pollMin        time.Duration
	pollMax        time.Duration
)

func init() {
	pflag.StringVar(&root, "root", "", "Job-queue root directory (required).")
	pflag.BoolVar(&preferPriority, "prefer-priority", true, "Prefer priority_jobs over jobs when claiming.")
	pflag.StringVar(&flockFile, "flock", os.TempDir()+"/redact-worker.lock", "Lock file path, to stop two copies polling the same root.")
	pflag.BoolVar(&skipFlock, "ignore-flock", false, "DANGER: skip flocking.")
	pflag.IntVar(&maxP, "max", runtime.NumCPU(), "Maximum simultaneous in-flight claims.")
	pflag.BoolVarP(&useBar, "bar", "b", false, "Enable progress bar, suppress normal screen logging.")
	pflag.StringVarP(&logFile, "log", "l", "", "If set, logging goes to this file instead of stderr.")
	pflag.BoolVar(&debug, "debug", false, "Enable debug logging. Disables bar.")
	pflag.DurationVar(&pollMin, "poll-min", 100*time.Millisecond, "Minimum delay between empty-queue polls.")
	pflag.DurationVar(&pollMax, "poll-max", 5*time.Second, "Maximum delay between empty-queue polls.")

	pflag.CommandLine.MarkHidden("ignore-flock")
	pflag.Parse()

	if root == "" {
		fmt.Println("redact-worker options:")
		pflag.PrintDefaults()
		os.Exit(2)
	}
	if debug {
		useBar = false
	}
	if maxP < 1 {
		maxP = 1
	}
}

func main() {
	var (
		logMessages = true
		outLog      = log.New(colorable.NewColorableStderr(), "", log.LstdFlags)
		debugLog    = log.New(os.Stderr, "", 0)
		barChan     chan racket.Progress
		fileLock    *flock.Flock
	)
	if debug {
		debugLog = log.New(os.Stderr, "[DEBUG] ", log.Lshortfile)
	}

	if !skipFlock {
		fileLock = flock.New(flockFile)
		locked, err := fileLock.TryLock()
		if err != nil {
			outLog.Fatalf("error while trying to flock %s: %v", flockFile, err)
		}
		if !locked {
			outLog.Fatalf("Only one redact-worker should poll %s at a time.", root)
		}
		defer fileLock.Unlock()
	}

	if logFile != "" {
		logMessages = true
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
		if err != nil {
			outLog.Fatalf("Could not open logfile '%s' for append: %v", logFile, err)
		}
		outLog = log.New(f, "", log.LstdFlags)
	}

	if err := queue.Init(root); err != nil {
		outLog.Fatalf("queue.Init(%s): %v", root, err)
	}

	var claimed, completed, errored int64
	started := time.Now()

	if useBar {
		barChan = make(chan racket.Progress)
		defer close(barChan)
		logMessages = false
		go func() {
			bar := pb.ProgressBarTemplate(`{{ counters . }} {{ bar . }} {{ percent . }}`).Start(0)
			defer bar.Finish()
			for b := range barChan {
				switch b.Type {
				case racket.ProgressUpdate:
					bar.Add64(b.Data.(int64))
				case racket.ProgressEstimate:
					bar.SetTotal(b.Data.(int64))
				}
			}
		}()
		time.Sleep(100 * time.Millisecond)
	}

	workChan := make(chan racket.Work)
	redactJob := racket.NewJob(func(id any, w racket.Work, progressChan chan<- racket.Progress) {
		redactWorkFunc(id, w, progressChan, &completed, &errored)
	})
	progressChan, doneFunc := redactJob.Supervisor(maxP, workChan)
	defer close(progressChan)

	go racket.ProgressLogger(outLog, logMessages, nil, progressChan, barChan)

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	debugLog.Printf("redact-worker polling %s (max=%d)", root, maxP)

	b := worker.NewBackoff(pollMin, pollMax)
	for {
		res, ok := worker.ClaimLoop(root, preferPriority, b, stop)
		if !ok {
			break
		}
		atomic.AddInt64(&claimed, 1)
		workChan <- racket.NewWork(map[string]any{
			"root":  root,
			"uuid":  res.UUID,
			"state": string(res.State),
		})
	}

	doneFunc()
	<-redactJob.IsDone()

	summary := fmt.Sprintf("redact-worker done: claimed=%d completed=%d errored=%d wall=%s",
		atomic.LoadInt64(&claimed), atomic.LoadInt64(&completed), atomic.LoadInt64(&errored), time.Since(started).Round(time.Millisecond))
	if color.NoColor {
		outLog.Println(summary)
	} else {
		outLog.Println(color.GreenString(summary))
	}
}

// redactWorkFunc is the racket.WorkerFunc that redacts one claimed
// job's PDF in place against its metadata's redaction plan, and
// finalizes it to complete/ or error/.
func redactWorkFunc(id any, w racket.Work, progressChan chan<- racket.Progress, completed, errored *int64) {
	root := w.GetString("root")
	uuid := w.GetString("uuid")
	state := queue.State(w.GetString("state"))

	progressChan <- racket.PMessagef("[WORKER %v] redacting %s", id, uuid)

	pdfPath, err := queue.Path(root, state, queue.PDF, uuid, true)
	if err != nil {
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}
	metaPath, err := queue.Path(root, state, queue.Metadata, uuid, true)
	if err != nil {
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}

	metaBytes, err := os.ReadFile(metaPath) //#nosec G304 -- path built from the locked queue layout
	if err != nil {
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}
	plan, err := redact.ParsePlan(metaBytes)
	if err != nil {
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}

	tmpOut := pdfPath + ".redacted.tmp"
	var report redact.Report
	if err := redact.Redact(pdfPath, tmpOut, plan, &report); err != nil {
		_ = os.Remove(tmpOut)
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}
	if err := os.Rename(tmpOut, pdfPath); err != nil {
		_ = os.Remove(tmpOut)
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}

	reportPath, rerr := queue.Path(root, state, queue.Report, uuid, true)
	if rerr == nil {
		if body, merr := report.MarshalJSON(); merr == nil {
			_ = os.WriteFile(reportPath, body, 0o644)
		}
	}

	if err := queue.Finalize(root, uuid, state, queue.Complete); err != nil {
		failJob(id, root, uuid, state, err, progressChan, errored)
		return
	}

	progressChan <- racket.PMessagef("[WORKER %v] completed %s (matches=%d bytes_redacted=%d)", id, uuid, report.MatchCount, report.BytesRedacted)
	progressChan <- racket.PUpdate(1)
	atomic.AddInt64(completed, 1)
}

func failJob(id any, root, uuid string, state queue.State, procErr error, progressChan chan<- racket.Progress, errored *int64) {
	progressChan <- racket.PErrorf("[WORKER %v] %s: %w", id, uuid, procErr)
	if werr := worker.WriteErrorReport(root, uuid, state, procErr); werr != nil {
		progressChan <- racket.PErrorf("[WORKER %v] %s: error finalize failed: %w", id, uuid, werr)
	}
	progressChan <- racket.PUpdate(1)
	atomic.AddInt64(errored, 1)
}
