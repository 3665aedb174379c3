package broadcast

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWriteEvent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteEvent(&buf, Event{Type: "scrape_status_update", ID: "7", Data: map[string]bool{"running": true}}))
	assert.Equal(t, "event: scrape_status_update\nid: 7\ndata: {\"running\":true}\n\n", buf.String())
}

func TestWriteEventDataOnly(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteEvent(&buf, Event{Data: 1}))
	assert.Equal(t, "data: 1\n\n", buf.String())
}

func TestHandlerStreamsEvents(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{})
	initial := func() any { return map[string]bool{"running": false} }
	srv := httptest.NewServer(Handler(b, time.Minute, initial, zaptest.NewLogger(t)))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		var sb strings.Builder
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return sb.String()
			}
			sb.WriteString(line)
		}
	}

	assert.Contains(t, readFrame(), "event: connected")
	assert.Equal(t, "event: scrape_status_update\ndata: {\"running\":false}\n", readFrame())

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Publish(ctx, Event{Type: EventTypeStatus, Data: map[string]bool{"running": true}}))
	assert.Equal(t, "event: scrape_status_update\ndata: {\"running\":true}\n", readFrame())
}

func TestHandlerRejectsWhenFull(t *testing.T) {
	t.Parallel()
	b := startBroker(t, Config{MaxClients: 1})
	_, cleanup, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	Handler(b, 0, nil, nil)(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
