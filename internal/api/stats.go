package api

import (
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/crawl-supervisor/internal/classify"
	"github.com/JakeFAU/crawl-supervisor/internal/progress"
	"github.com/JakeFAU/crawl-supervisor/internal/supervisor"
)

// Stats summarises the visible log tail for dashboards.
type Stats struct {
	Running         bool     `json:"isRunning"`
	State           string   `json:"state"`
	RunID           string   `json:"runId,omitempty"`
	Fetched         int      `json:"fetched"`
	Pages           int      `json:"pages"`
	Assets          int      `json:"assets"`
	Errors          int      `json:"errors"`
	CurrentActivity string   `json:"currentActivity"`
	LiveLogLines    []string `json:"liveLogLines"`
	RecentPages     []string `json:"recentPages"`
}

const recentPagesCap = 10

// ComputeStats classifies the snapshot's log tail. Counts cover only the
// lines the snapshot carries, not the whole run.
func ComputeStats(snap supervisor.Snapshot) Stats {
	st := Stats{
		Running:      snap.Running,
		State:        string(snap.State),
		RunID:        snap.RunID,
		LiveLogLines: snap.LastLogLines,
		RecentPages:  []string{},
	}
	if st.LiveLogLines == nil {
		st.LiveLogLines = []string{}
	}

	var last progress.Event
	var haveLast bool
	for _, line := range snap.LastLogLines {
		evt, ok := classify.Classify(line)
		if !ok {
			continue
		}
		last, haveLast = evt, true
		switch evt.Kind {
		case progress.KindPageFetch:
			st.Fetched++
		case progress.KindPageComplete:
			st.Pages++
			st.RecentPages = append(st.RecentPages, evt.URL)
		case progress.KindAssetProcessed:
			st.Assets++
		case progress.KindError:
			st.Errors++
		}
	}
	if n := len(st.RecentPages); n > recentPagesCap {
		st.RecentPages = st.RecentPages[n-recentPagesCap:]
	}

	st.CurrentActivity = "Stopped"
	if snap.Running {
		st.CurrentActivity = "Crawling..."
		if haveLast {
			st.CurrentActivity = describeActivity(last)
		}
	}
	return st
}

func describeActivity(evt progress.Event) string {
	switch evt.Kind {
	case progress.KindPageFetch:
		return "Fetching: " + lastSegment(evt.URL, "page")
	case progress.KindPageComplete:
		return fmt.Sprintf("Page completed in %.1fs", evt.Dur.Seconds())
	case progress.KindAssetProcessed:
		return "Processing: " + lastSegment(evt.URL, "asset")
	case progress.KindError:
		return "Error: " + evt.Note
	default:
		return "Crawling..."
	}
}

func lastSegment(rawURL, fallback string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.Index(trimmed, "://"); i >= 0 && !strings.Contains(trimmed[i+3:], "/") {
		return fallback
	}
	seg := path.Base(trimmed)
	if seg == "" || seg == "." || seg == "/" {
		return fallback
	}
	return seg
}
