package changes

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

// ErrNotFound is returned by Store.Get for pages never recorded.
var ErrNotFound = store.ErrNotFound

// ErrUnreadable wraps failures to read a page from disk.
var ErrUnreadable = errors.New("changes: page unreadable")

// Store is the fingerprint persistence the detector needs.
type Store = store.FingerprintRepository

// PageLister enumerates the pages of a site.
type PageLister interface {
	ListPages(ctx context.Context, site string) ([]crawlfs.Page, error)
}

// PageResult is the verdict for one page plus the fingerprints behind it.
type PageResult struct {
	Result
	SiteID   string                       `json:"siteId"`
	PageURL  string                       `json:"url"`
	File     string                       `json:"file,omitempty"`
	Current  *fingerprint.PageFingerprint `json:"current,omitempty"`
	Previous *fingerprint.PageFingerprint `json:"previous,omitempty"`
}

// SiteReport partitions a site's pages by verdict.
type SiteReport struct {
	SiteID    string       `json:"siteId"`
	Total     int          `json:"total"`
	Changed   []PageResult `json:"changed"`
	Unchanged []PageResult `json:"unchanged"`
	New       []PageResult `json:"new"`
}

// Detector fingerprints pages on disk and compares them with the store.
// It holds no locks of its own; the store must be safe for concurrent use.
type Detector struct {
	store      Store
	lister     PageLister
	engine     *fingerprint.Engine
	thresholds Thresholds
	logger     *zap.Logger
}

// NewDetector wires a Detector. lister may be nil when DetectSite is unused.
// th is used as given; callers wanting the stock tuning pass
// DefaultThresholds.
func NewDetector(st Store, lister PageLister, engine *fingerprint.Engine, th Thresholds, logger *zap.Logger) (*Detector, error) {
	if st == nil {
		return nil, fmt.Errorf("fingerprint store is required")
	}
	if engine == nil {
		engine = fingerprint.NewEngine(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:      st,
		lister:     lister,
		engine:     engine,
		thresholds: th,
		logger:     logger.Named("changes"),
	}, nil
}

// Thresholds returns the active tuning.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// DetectPage fingerprints the file at path and compares it with the stored
// fingerprint for (siteID, pageURL). When the page cannot be read, or the
// store fails, the result is conservatively "new" and the cause is returned
// alongside it.
func (d *Detector) DetectPage(ctx context.Context, siteID, pageURL, path string) (PageResult, error) {
	res := PageResult{SiteID: siteID, PageURL: pageURL}

	current, err := d.fingerprintFile(path)
	if err != nil {
		res.Result = Result{HasChanged: true, IsNewFile: true, ChangeType: ChangeContent}
		return res, err
	}
	res.Current = &current

	prev, err := d.store.Get(ctx, siteID, pageURL)
	switch {
	case err == nil:
		res.Previous = &prev
	case errors.Is(err, ErrNotFound):
	default:
		res.Result = Result{HasChanged: true, IsNewFile: true, ChangeType: ChangeContent}
		return res, fmt.Errorf("load fingerprint %s %s: %w", siteID, pageURL, err)
	}

	res.Result = d.thresholds.Detect(current, res.Previous)
	return res, nil
}

// Observe runs DetectPage and records the new fingerprint when the page is
// new or changed.
func (d *Detector) Observe(ctx context.Context, siteID, pageURL, path string) (PageResult, error) {
	res, err := d.DetectPage(ctx, siteID, pageURL, path)
	if err != nil {
		return res, err
	}
	if !res.HasChanged && !res.IsNewFile {
		return res, nil
	}
	if err := d.store.Upsert(ctx, siteID, pageURL, *res.Current); err != nil {
		return res, fmt.Errorf("record fingerprint %s %s: %w", siteID, pageURL, err)
	}
	d.logger.Debug("page change recorded",
		zap.String("site", siteID),
		zap.String("url", pageURL),
		zap.Bool("new", res.IsNewFile),
		zap.String("change_type", string(res.ChangeType)))
	return res, nil
}

// Record stores fp as the latest fingerprint without comparison.
func (d *Detector) Record(ctx context.Context, siteID, pageURL string, fp fingerprint.PageFingerprint) error {
	if err := d.store.Upsert(ctx, siteID, pageURL, fp); err != nil {
		return fmt.Errorf("record fingerprint %s %s: %w", siteID, pageURL, err)
	}
	return nil
}

// DetectSite runs DetectPage for every page of siteID. Pages that fail are
// reported as new. A listing failure yields an empty report and the error.
func (d *Detector) DetectSite(ctx context.Context, siteID string) (SiteReport, error) {
	report := SiteReport{
		SiteID:    siteID,
		Changed:   []PageResult{},
		Unchanged: []PageResult{},
		New:       []PageResult{},
	}
	if d.lister == nil {
		return report, fmt.Errorf("page lister is not configured")
	}
	pages, err := d.lister.ListPages(ctx, siteID)
	if err != nil {
		return report, fmt.Errorf("list pages for %s: %w", siteID, err)
	}

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("detect site %s: %w", siteID, err)
		}
		res, err := d.DetectPage(ctx, siteID, page.URL, page.Path)
		res.File = page.File
		if err != nil {
			d.logger.Warn("page check failed, treating as new",
				zap.String("site", siteID), zap.String("file", page.File), zap.Error(err))
		}
		report.Total++
		switch {
		case res.IsNewFile:
			report.New = append(report.New, res)
		case res.HasChanged:
			report.Changed = append(report.Changed, res)
		default:
			report.Unchanged = append(report.Unchanged, res)
		}
	}
	return report, nil
}

func (d *Detector) fingerprintFile(path string) (fingerprint.PageFingerprint, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fingerprint.PageFingerprint{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if fi.IsDir() {
		return fingerprint.PageFingerprint{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}
	content, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths inside the markdown root.
	if err != nil {
		return fingerprint.PageFingerprint{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	fp, err := d.engine.Compute(content, fingerprint.StatFromFileInfo(fi))
	if err != nil {
		return fingerprint.PageFingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return fp, nil
}
