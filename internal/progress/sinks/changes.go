package sinks

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/crawlfs"
	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

// PageFinder locates the stored document for a crawled URL.
type PageFinder interface {
	FindPage(ctx context.Context, site, url string) (crawlfs.Page, error)
}

// Observer records a freshly written page.
type Observer interface {
	Observe(ctx context.Context, siteID, pageURL, path string) (changes.PageResult, error)
}

// ChangeSink runs change detection for every completed page. Pages whose
// document cannot be located are skipped; detection failures are logged and
// never fail the batch.
type ChangeSink struct {
	finder   PageFinder
	observer Observer
	onResult func(changes.PageResult)
	logger   *zap.Logger
}

// NewChangeSink wires the crawl output reader and detector together. onResult
// is optional and sees every detection outcome.
func NewChangeSink(finder PageFinder, observer Observer, onResult func(changes.PageResult), logger *zap.Logger) *ChangeSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeSink{finder: finder, observer: observer, onResult: onResult, logger: logger}
}

// Consume implements progress.Sink.
func (s *ChangeSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Kind != progress.KindPageComplete || evt.Site == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.finder.FindPage(ctx, evt.Site, evt.URL)
		if err != nil {
			if !errors.Is(err, crawlfs.ErrPageNotFound) {
				s.logger.Warn("locate crawled page", zap.String("site", evt.Site), zap.String("url", evt.URL), zap.Error(err))
			}
			continue
		}
		res, err := s.observer.Observe(ctx, evt.Site, evt.URL, page.Path)
		if err != nil {
			s.logger.Warn("change detection degraded", zap.String("site", evt.Site), zap.String("url", evt.URL), zap.Error(err))
		}
		if res.HasChanged {
			s.logger.Info("page changed",
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.Bool("new", res.IsNewFile),
				zap.String("change_type", string(res.ChangeType)))
		}
		if s.onResult != nil {
			s.onResult(res)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ChangeSink) Close(context.Context) error {
	return nil
}
