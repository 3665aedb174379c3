package memory

import (
	"time"

	"github.com/JakeFAU/crawl-supervisor/internal/fingerprint"
)

func sampleFingerprint(hash string) fingerprint.PageFingerprint {
	return fingerprint.PageFingerprint{
		ContentHash:  hash,
		FileSize:     120,
		WordCount:    20,
		HeadingCount: 2,
		LinkCount:    3,
		LastModified: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
