// Package fingerprint computes content fingerprints for crawled markdown pages.
package fingerprint

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/crawl-supervisor/internal/hash/sha256"
)

// PageFingerprint summarises a page so successive crawls can be compared
// without keeping the documents themselves.
type PageFingerprint struct {
	ContentHash  string    `json:"contentHash"`
	FileSize     int64     `json:"fileSize"`
	WordCount    int       `json:"wordCount"`
	HeadingCount int       `json:"headingCount"`
	LinkCount    int       `json:"linkCount"`
	LastModified time.Time `json:"lastModified"`
}

// Stat is the file metadata folded into a fingerprint.
type Stat struct {
	Size    int64
	ModTime time.Time
}

// StatFromFileInfo copies the relevant fields from fi.
func StatFromFileInfo(fi fs.FileInfo) Stat {
	if fi == nil {
		return Stat{}
	}
	return Stat{Size: fi.Size(), ModTime: fi.ModTime().UTC()}
}

// Hasher produces the content digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Engine computes fingerprints. The zero value is not usable; call NewEngine.
type Engine struct {
	hasher Hasher
}

var (
	headingPattern = regexp.MustCompile(`(?m)^#+\s`)
	linkPattern    = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
)

// NewEngine returns an Engine that hashes with h, or SHA-256 when h is nil.
func NewEngine(h Hasher) *Engine {
	if h == nil {
		h = sha256.New()
	}
	return &Engine{hasher: h}
}

// Compute fingerprints content. The hash covers the normalized text while the
// counts are taken from the raw bytes.
func (e *Engine) Compute(content []byte, stat Stat) (PageFingerprint, error) {
	raw := string(content)
	digest, err := e.hasher.Hash([]byte(Normalize(raw)))
	if err != nil {
		return PageFingerprint{}, fmt.Errorf("hash content: %w", err)
	}
	return PageFingerprint{
		ContentHash:  digest,
		FileSize:     stat.Size,
		WordCount:    len(strings.Fields(raw)),
		HeadingCount: len(headingPattern.FindAllStringIndex(raw, -1)),
		LinkCount:    len(linkPattern.FindAllStringIndex(raw, -1)),
		LastModified: stat.ModTime,
	}, nil
}

// Normalize converts CRLF and lone CR to LF, strips trailing whitespace from
// every line, and trims the document.
func Normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
