package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-supervisor/internal/config"
	"github.com/JakeFAU/crawl-supervisor/internal/store"
)

func TestRunHandlers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{})
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	done := uuid.New()
	active := uuid.New()
	require.NoError(t, env.runs.UpsertRunStart(ctx, done, "acme", started))
	require.NoError(t, env.runs.CompleteRun(ctx, done, started.Add(time.Minute), store.RunSuccess, nil))
	require.NoError(t, env.runs.UpsertRunStart(ctx, active, "", started.Add(time.Hour)))

	h := env.server.Handler()

	rec := doRequest(t, h, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 2)
	assert.Equal(t, active, list.Runs[0].RunID)

	rec = doRequest(t, h, http.MethodGet, "/v1/runs?status=success", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, done, list.Runs[0].RunID)

	rec = doRequest(t, h, http.MethodGet, "/v1/runs/"+done.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Run store.RunRecord `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, store.RunSuccess, one.Run.Status)
	assert.Equal(t, "acme", one.Run.Site)
}

func TestRunHandlersErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.AuthConfig{})
	h := env.server.Handler()

	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/v1/runs?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/v1/runs?offset=-2", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/v1/runs?status=paused", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/v1/runs/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/v1/runs/"+uuid.NewString(), "").Code)
}

func TestRunHandlersWithoutStore(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Deps{Supervisor: &fakeSupervisor{}}, config.AuthConfig{}, nil)
	require.NoError(t, err)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseLimitOffset(t *testing.T) {
	t.Parallel()

	req := doRequestURL("/v1/runs?limit=9999&offset=3")
	limit, offset, err := parseLimitOffset(req, defaultRunLimit, maxRunLimit)
	require.NoError(t, err)
	assert.Equal(t, maxRunLimit, limit)
	assert.Equal(t, 3, offset)
}
