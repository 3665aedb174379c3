// Package changes decides whether a freshly crawled page differs meaningfully
// from the last time it was seen.
package changes

import (
	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
)

// ChangeType classifies a detected change.
type ChangeType string

// Change types, from most to least significant.
const (
	ChangeStructure ChangeType = "structure"
	ChangeContent   ChangeType = "content"
	ChangeMetadata  ChangeType = "metadata"
	ChangeMinor     ChangeType = "minor"
)

// Thresholds tune the classification. Percentages are relative to the
// previous word count.
type Thresholds struct {
	// StructureLinkDelta is the link count difference above which a change is
	// structural.
	StructureLinkDelta int `mapstructure:"structure_link_delta"`
	// ContentPercent is the word count change (percent) above which a change
	// is a content change.
	ContentPercent float64 `mapstructure:"content_percent"`
	// MetadataPercent is the word count change (percent) above which a change
	// is a metadata change.
	MetadataPercent float64 `mapstructure:"metadata_percent"`
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StructureLinkDelta: 2,
		ContentPercent:     10,
		MetadataPercent:    2,
	}
}

// Result is the verdict for one page.
type Result struct {
	HasChanged bool       `json:"hasChanged"`
	IsNewFile  bool       `json:"isNewFile"`
	ChangeType ChangeType `json:"changeType,omitempty"`
}

// Detect compares current against previous. A nil previous means the page has
// never been seen.
func (t Thresholds) Detect(current fingerprint.PageFingerprint, previous *fingerprint.PageFingerprint) Result {
	if previous == nil {
		return Result{HasChanged: true, IsNewFile: true, ChangeType: ChangeContent}
	}
	if current.ContentHash == previous.ContentHash {
		return Result{}
	}

	headingDelta := abs(current.HeadingCount - previous.HeadingCount)
	linkDelta := abs(current.LinkCount - previous.LinkCount)
	if headingDelta > 0 || linkDelta > t.StructureLinkDelta {
		return Result{HasChanged: true, ChangeType: ChangeStructure}
	}

	base := previous.WordCount
	if base < 1 {
		base = 1
	}
	wordPct := float64(abs(current.WordCount-previous.WordCount)) / float64(base) * 100
	switch {
	case wordPct > t.ContentPercent:
		return Result{HasChanged: true, ChangeType: ChangeContent}
	case wordPct > t.MetadataPercent:
		return Result{HasChanged: true, ChangeType: ChangeMetadata}
	default:
		return Result{HasChanged: true, ChangeType: ChangeMinor}
	}
}

// Detect applies DefaultThresholds.
func Detect(current fingerprint.PageFingerprint, previous *fingerprint.PageFingerprint) Result {
	return DefaultThresholds().Detect(current, previous)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
