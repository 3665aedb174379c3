package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-supervisor/internal/progress"
)

func TestClassifyDefaultRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want progress.Event
		ok   bool
	}{
		{
			name: "bracketed fetch",
			line: "[FETCH] https://x.test/a",
			want: progress.Event{Kind: progress.KindPageFetch, URL: "https://x.test/a"},
			ok:   true,
		},
		{
			name: "bare fetch token",
			line: "FETCH https://x.test/a",
			want: progress.Event{Kind: progress.KindPageFetch, URL: "https://x.test/a"},
			ok:   true,
		},
		{
			name: "page complete",
			line: "https://x.test/a | ✓ | ⏱: 2.5s",
			want: progress.Event{Kind: progress.KindPageComplete, URL: "https://x.test/a", Dur: 2500 * time.Millisecond},
			ok:   true,
		},
		{
			name: "page complete with prefix",
			line: "[COMPLETE] ● https://x.test/b | ✓ | ⏱: 0.42s",
			want: progress.Event{Kind: progress.KindPageComplete, URL: "https://x.test/b", Dur: 420 * time.Millisecond},
			ok:   true,
		},
		{
			name: "cached asset with size",
			line: "Using cached asset https://x.test/logo.png (2048 bytes)",
			want: progress.Event{Kind: progress.KindAssetProcessed, URL: "https://x.test/logo.png", Status: progress.AssetCached, Bytes: 2048},
			ok:   true,
		},
		{
			name: "downloaded asset without size",
			line: "Downloading asset https://x.test/app.css",
			want: progress.Event{Kind: progress.KindAssetProcessed, URL: "https://x.test/app.css", Status: progress.AssetDownloaded},
			ok:   true,
		},
		{
			name: "error line",
			line: "  ERROR timeout on https://x.test/c  ",
			want: progress.Event{Kind: progress.KindError, URL: "https://x.test/c", Note: "ERROR timeout on https://x.test/c"},
			ok:   true,
		},
		{
			name: "exception without url",
			line: "Traceback: ValueError Exception raised",
			want: progress.Event{Kind: progress.KindError, Note: "Traceback: ValueError Exception raised"},
			ok:   true,
		},
		{name: "plain chatter", line: "hello", ok: false},
		{name: "empty", line: "", ok: false},
		{name: "fetch without url", line: "[FETCH] pending", ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tc.line)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	t.Parallel()

	got, ok := Classify("[FETCH] https://x.test/a ERROR retrying")
	require.True(t, ok)
	assert.Equal(t, progress.KindPageFetch, got.Kind)

	got, ok = Classify("Downloading asset https://x.test/a.js FAILED")
	require.True(t, ok)
	assert.Equal(t, progress.KindAssetProcessed, got.Kind)
}

func TestClassifyMalformedDuration(t *testing.T) {
	t.Parallel()

	got, ok := Classify("https://x.test/a | ✓ | ⏱: 1.2.3s")
	require.True(t, ok)
	assert.Equal(t, progress.KindPageComplete, got.Kind)
	assert.Equal(t, time.Duration(0), got.Dur)
}

func TestNewWithCustomRules(t *testing.T) {
	t.Parallel()

	always := Rule{Name: "heartbeat", Match: func(line string) (progress.Event, bool) {
		return progress.Event{Kind: progress.KindError, Note: line}, line == "ping"
	}}
	c := New(append([]Rule{always}, DefaultRules()...)...)
	assert.Equal(t, []string{"heartbeat", "page_fetch", "page_complete", "asset", "error"}, c.Rules())

	got, ok := c.Classify("ping")
	require.True(t, ok)
	assert.Equal(t, "ping", got.Note)

	_, ok = New(Rule{Name: "broken"}).Classify("ERROR")
	assert.False(t, ok)
}

func TestClassifyCompleteWithEmojiVariant(t *testing.T) {
	t.Parallel()

	got, ok := Classify("https://x.test/a | ✓ | ⏱️: 3s")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, got.Dur)

	got, ok = Classify("https://x.test/a | OK | elapsed:1s")
	require.True(t, ok)
	assert.Equal(t, time.Second, got.Dur)
}
