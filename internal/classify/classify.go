// Package classify turns raw crawl worker output lines into progress events.
//
// The worker prints free text. Classification runs an ordered rule list and
// the first rule that matches decides the event; lines no rule recognises
// produce nothing. The returned Event carries only what the line itself says;
// the supervisor stamps run, site, and time before emitting it.
package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

// Rule recognises one kind of line.
type Rule struct {
	Name  string
	Match func(line string) (progress.Event, bool)
}

// Classifier applies rules in order.
type Classifier struct {
	rules []Rule
}

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s|]+`)
	fetchMarker     = regexp.MustCompile(`\[FETCH\]|\bFETCH\b`)
	completePattern = regexp.MustCompile(`(?:✓|OK)\s*\|\s*(?:⏱\x{FE0F}?|elapsed):\s*([\d.]+)\s*s`)
	assetMarker     = regexp.MustCompile(`(?i)\b(using cached asset|downloading asset)\b`)
	sizePattern     = regexp.MustCompile(`(?i)\b(\d+)\s*bytes?\b`)
	errorMarker     = regexp.MustCompile(`ERROR|FAILED|Exception`)

	defaultClassifier = New()
)

// DefaultRules returns the built-in rule order. The slice is fresh on every
// call so callers may reorder or extend it.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "page_fetch", Match: matchFetch},
		{Name: "page_complete", Match: matchComplete},
		{Name: "asset", Match: matchAsset},
		{Name: "error", Match: matchError},
	}
}

// New builds a Classifier from rules, or from DefaultRules when none are given.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Match != nil {
			kept = append(kept, r)
		}
	}
	return &Classifier{rules: kept}
}

// Classify runs the default rules against line.
func Classify(line string) (progress.Event, bool) {
	return defaultClassifier.Classify(line)
}

// Classify returns the event produced by the first matching rule.
func (c *Classifier) Classify(line string) (progress.Event, bool) {
	if c == nil || strings.TrimSpace(line) == "" {
		return progress.Event{}, false
	}
	for _, r := range c.rules {
		if evt, ok := r.Match(line); ok {
			return evt, true
		}
	}
	return progress.Event{}, false
}

// Rules returns the names of the configured rules in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.Name)
	}
	return names
}

func matchFetch(line string) (progress.Event, bool) {
	if !fetchMarker.MatchString(line) {
		return progress.Event{}, false
	}
	url := urlPattern.FindString(line)
	if url == "" {
		return progress.Event{}, false
	}
	return progress.Event{Kind: progress.KindPageFetch, URL: url}, true
}

func matchComplete(line string) (progress.Event, bool) {
	m := completePattern.FindStringSubmatchIndex(line)
	if m == nil {
		return progress.Event{}, false
	}
	url := urlPattern.FindString(line[:m[0]])
	if url == "" {
		return progress.Event{}, false
	}
	secs, err := strconv.ParseFloat(line[m[2]:m[3]], 64)
	if err != nil || secs < 0 {
		secs = 0
	}
	return progress.Event{
		Kind: progress.KindPageComplete,
		URL:  url,
		Dur:  time.Duration(secs * float64(time.Second)).Round(time.Millisecond),
	}, true
}

func matchAsset(line string) (progress.Event, bool) {
	m := assetMarker.FindStringSubmatch(line)
	if m == nil {
		return progress.Event{}, false
	}
	status := progress.AssetDownloaded
	if strings.Contains(strings.ToLower(m[1]), "cached") {
		status = progress.AssetCached
	}
	evt := progress.Event{
		Kind:   progress.KindAssetProcessed,
		URL:    urlPattern.FindString(line),
		Status: status,
	}
	if sm := sizePattern.FindStringSubmatch(line); sm != nil {
		if n, err := strconv.ParseInt(sm[1], 10, 64); err == nil {
			evt.Bytes = n
		}
	}
	return evt, true
}

func matchError(line string) (progress.Event, bool) {
	if !errorMarker.MatchString(line) {
		return progress.Event{}, false
	}
	return progress.Event{
		Kind: progress.KindError,
		URL:  urlPattern.FindString(line),
		Note: strings.TrimSpace(line),
	}, true
}
