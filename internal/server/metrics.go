package server

import (
	"fmt"
	"time"

	"github.com/cognusion/pdfqueue/internal/queue"
)

// buildMetricsJSON renders the /metrics response shape of spec.md §6:
// status, timestamps, root, configured limits, aggregate totals, and
// per-state breakdowns.
func buildMetricsJSON(cfg Config, start time.Time, stats *queue.Stats) []byte {
	now := time.Now()

	statesJSON := fmt.Sprintf(
		`"jobs":%s,"priority":%s,"complete":%s,"error":%s`,
		stateJSON(stats, queue.Jobs),
		stateJSON(stats, queue.PriorityJobs),
		stateJSON(stats, queue.Complete),
		stateJSON(stats, queue.Error),
	)

	return []byte(fmt.Sprintf(
		`{"status":"ok","timestamp_epoch":%d,"uptime_seconds":%.0f,"root":%q,`+
			`"limits":{"max_children":%d,"max_upload_bytes":%d,"max_header_bytes":%d,"max_header_lines":%d},`+
			`"totals":{"files":%d,"locked":%d,"orphans":%d,"bytes":%d,"oldest_mtime":%d,"newest_mtime":%d},`+
			`"states":{%s}}`,
		now.Unix(), now.Sub(start).Seconds(), cfg.Root,
		cfg.MaxChildren, cfg.MaxUploadSize, cfg.MaxHeaderSize, cfg.MaxHeaderLines,
		totalOrZero(stats, func(s *queue.Stats) int { return s.TotalFiles }),
		totalOrZero(stats, func(s *queue.Stats) int { return s.TotalLocked }),
		totalOrZero(stats, func(s *queue.Stats) int { return s.TotalOrphan }),
		totalBytesOrZero(stats),
		mtimeUnix(stats, true),
		mtimeUnix(stats, false),
		statesJSON,
	))
}

func stateJSON(stats *queue.Stats, s queue.State) string {
	if stats == nil || stats.States[s] == nil {
		return `{"live_pdf":0,"live_metadata":0,"live_report":0,"locked_pdf":0,"locked_metadata":0,"locked_report":0,"orphans":0,"bytes":0}`
	}
	ss := stats.States[s]
	return fmt.Sprintf(
		`{"live_pdf":%d,"live_metadata":%d,"live_report":%d,"locked_pdf":%d,"locked_metadata":%d,"locked_report":%d,"orphans":%d,"bytes":%d}`,
		ss.LivePDF, ss.LiveMeta, ss.LiveReport, ss.LockedPDF, ss.LockedMeta, ss.LockedReport, ss.Orphans, ss.Bytes,
	)
}

func totalOrZero(stats *queue.Stats, f func(*queue.Stats) int) int {
	if stats == nil {
		return 0
	}
	return f(stats)
}

func totalBytesOrZero(stats *queue.Stats) int64 {
	if stats == nil {
		return 0
	}
	return stats.TotalBytes
}

func mtimeUnix(stats *queue.Stats, oldest bool) int64 {
	if stats == nil {
		return 0
	}
	if oldest {
		if stats.OldestMtime.IsZero() {
			return 0
		}
		return stats.OldestMtime.Unix()
	}
	if stats.NewestMtime.IsZero() {
		return 0
	}
	return stats.NewestMtime.Unix()
}
