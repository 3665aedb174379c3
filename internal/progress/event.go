package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes what a single Event reports.
type Kind string

// Event kinds. The page and asset kinds come from classified worker output;
// the run kinds are emitted by the supervisor itself.
const (
	KindRunStart       Kind = "RUN_START"
	KindRunExit        Kind = "RUN_EXIT"
	KindPageFetch      Kind = "PAGE_FETCH"
	KindPageComplete   Kind = "PAGE_COMPLETE"
	KindAssetProcessed Kind = "ASSET_PROCESSED"
	KindError          Kind = "ERROR"
)

// Asset statuses reported on KindAssetProcessed.
const (
	AssetCached     = "cached"
	AssetDownloaded = "downloaded"
)

// Run outcomes reported on KindRunExit.
const (
	RunSuccess = "success"
	RunError   = "error"
	RunStopped = "stopped"
)

// Event is one structured observation about a crawl run.
type Event struct {
	// RunID identifies the run in its 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC time the line was observed.
	TS time.Time
	// Kind is the event category.
	Kind Kind
	// Site is the target filter the run was started with, if any.
	Site string
	// URL is the page or asset the line referred to.
	URL string
	// Bytes is the asset size when the worker reported one.
	Bytes int64
	// Status holds the asset status or the run outcome depending on Kind.
	Status string
	// Dur is the page processing time reported by the worker.
	Dur time.Duration
	// Note carries the raw error text or an exit description.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart:
	case KindRunExit:
		switch e.Status {
		case RunSuccess, RunError, RunStopped:
		default:
			return fmt.Errorf("run exit requires outcome, got %q", e.Status)
		}
	case KindPageFetch, KindPageComplete:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Kind)
		}
	case KindAssetProcessed:
		if e.Status != AssetCached && e.Status != AssetDownloaded {
			return fmt.Errorf("asset event requires status, got %q", e.Status)
		}
	case KindError:
		if e.Note == "" {
			return errors.New("error event requires note")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
