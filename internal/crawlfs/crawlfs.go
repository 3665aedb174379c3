// Package crawlfs reads the markdown tree the crawl worker writes:
//
//	<root>/<site>/<page>.md
//	<root>/<site>/<page>.capture.json   {"url": "..."}
//	<root>/_aggregated/<site>.md
//
// Directories whose names start with an underscore are bookkeeping, not sites.
package crawlfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	markdownExt    = ".md"
	captureExt     = ".capture.json"
	aggregatedDir  = "_aggregated"
	reservedPrefix = "_"
)

// ErrPageNotFound is returned by FindPage when no page carries the URL.
var ErrPageNotFound = errors.New("crawlfs: page not found")

// ErrInvalidPath marks a site or file name that is empty, reserved, or
// escapes the markdown root.
var ErrInvalidPath = errors.New("crawlfs: invalid path")

// Page is one crawled markdown document.
type Page struct {
	Site string `json:"site"`
	File string `json:"file"`
	URL  string `json:"url"`
	Path string `json:"-"`
}

// Capture is the subset of the worker's capture sidecar we rely on.
type Capture struct {
	URL string `json:"url"`
}

// Reader lists sites and pages below a root directory.
type Reader struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	index map[string]*siteIndex
}

// siteIndex caches resolved pages of one site by file name and by URL.
type siteIndex struct {
	byFile map[string]Page
	byURL  map[string]Page
}

// New returns a Reader rooted at root. The directory need not exist yet.
func New(root string, logger *zap.Logger) (*Reader, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("crawl markdown root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve markdown root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{root: abs, logger: logger.Named("crawlfs"), index: make(map[string]*siteIndex)}, nil
}

// Root returns the absolute root directory.
func (r *Reader) Root() string {
	return r.root
}

// ListSites returns site directories in name order. A missing root yields an
// empty list.
func (r *Reader) ListSites(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read markdown root: %w", err)
	}
	sites := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		if e.IsDir() && !strings.HasPrefix(e.Name(), reservedPrefix) {
			sites = append(sites, e.Name())
		}
	}
	sort.Strings(sites)
	return sites, nil
}

// ListPages returns the markdown pages of site sorted by file name. The page
// URL comes from the capture sidecar and falls back to the file name.
func (r *Reader) ListPages(ctx context.Context, site string) ([]Page, error) {
	return r.scan(ctx, site, nil)
}

// FindPage looks up the page of site whose URL is url. Resolved pages are
// indexed; a miss rescans the directory but only reads sidecars of files not
// seen before.
func (r *Reader) FindPage(ctx context.Context, site, url string) (Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index[site]
	if idx != nil {
		if p, ok := idx.byURL[url]; ok {
			if _, err := os.Stat(p.Path); err == nil {
				return p, nil
			}
		}
	}
	var known map[string]Page
	if idx != nil {
		known = idx.byFile
	}
	pages, err := r.scan(ctx, site, known)
	if err != nil {
		return Page{}, err
	}
	idx = &siteIndex{byFile: make(map[string]Page, len(pages)), byURL: make(map[string]Page, len(pages))}
	for _, p := range pages {
		idx.byFile[p.File] = p
		idx.byURL[p.URL] = p
	}
	r.index[site] = idx
	if p, ok := idx.byURL[url]; ok {
		return p, nil
	}
	return Page{}, fmt.Errorf("%w: %s", ErrPageNotFound, url)
}

// scan lists the pages of site. Entries of known whose URL came from a
// sidecar are reused without reading the sidecar again.
func (r *Reader) scan(ctx context.Context, site string, known map[string]Page) ([]Page, error) {
	dir, err := r.siteDir(site)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Page{}, nil
		}
		return nil, fmt.Errorf("read site %q: %w", site, err)
	}
	pages := make([]Page, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, markdownExt) {
			continue
		}
		if p, ok := known[name]; ok && p.URL != p.File {
			pages = append(pages, p)
			continue
		}
		page := Page{Site: site, File: name, URL: name, Path: filepath.Join(dir, name)}
		capture, err := r.readCapture(page.Path)
		switch {
		case err == nil && capture.URL != "":
			page.URL = capture.URL
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			r.logger.Debug("capture sidecar unreadable", zap.String("site", site), zap.String("file", name), zap.Error(err))
		}
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].File < pages[j].File })
	return pages, nil
}

// Page resolves a single file of site, reading its capture sidecar.
func (r *Reader) Page(_ context.Context, site, file string) (Page, error) {
	dir, err := r.siteDir(site)
	if err != nil {
		return Page{}, err
	}
	path, err := within(dir, file)
	if err != nil {
		return Page{}, err
	}
	if !strings.HasSuffix(file, markdownExt) {
		return Page{}, fmt.Errorf("%w: page %q is not markdown", ErrInvalidPath, file)
	}
	page := Page{Site: site, File: filepath.Base(path), URL: filepath.Base(path), Path: path}
	if capture, err := r.readCapture(path); err == nil && capture.URL != "" {
		page.URL = capture.URL
	}
	return page, nil
}

// Aggregated returns the site's aggregated markdown, or nil when absent.
func (r *Reader) Aggregated(_ context.Context, site string) ([]byte, error) {
	if err := validSite(site); err != nil {
		return nil, err
	}
	path, err := within(filepath.Join(r.root, aggregatedDir), site+markdownExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to the markdown root.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read aggregated %q: %w", site, err)
	}
	return data, nil
}

func (r *Reader) readCapture(mdPath string) (Capture, error) {
	capPath := strings.TrimSuffix(mdPath, markdownExt) + captureExt
	data, err := os.ReadFile(capPath) // #nosec G304 -- sidecar of a listed page.
	if err != nil {
		return Capture{}, err
	}
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	return c, nil
}

func (r *Reader) siteDir(site string) (string, error) {
	if err := validSite(site); err != nil {
		return "", err
	}
	return within(r.root, site)
}

func validSite(site string) error {
	if strings.TrimSpace(site) == "" {
		return fmt.Errorf("%w: site is required", ErrInvalidPath)
	}
	if strings.HasPrefix(site, reservedPrefix) {
		return fmt.Errorf("%w: site %q is reserved", ErrInvalidPath, site)
	}
	return nil
}

// within joins name onto base and rejects results that escape base.
func within(base, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	cleanBase := filepath.Clean(base)
	full := filepath.Clean(filepath.Join(cleanBase, name))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidPath)
	}
	return full, nil
}
