package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// memStore is an in-memory RunStore for handler tests.
type memStore struct {
	pipeline map[string]model.PipelineSnapshot
	dispatch map[string]model.DispatchSnapshot
	infos    []store.RunInfo
}

func newMemStore() *memStore {
	return &memStore{
		pipeline: make(map[string]model.PipelineSnapshot),
		dispatch: make(map[string]model.DispatchSnapshot),
	}
}

func (m *memStore) SavePipeline(_ context.Context, snap *model.PipelineSnapshot) error {
	m.pipeline[snap.ID] = *snap
	return nil
}

func (m *memStore) GetPipeline(_ context.Context, id string) (*model.PipelineSnapshot, error) {
	snap, ok := m.pipeline[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (m *memStore) SaveDispatch(_ context.Context, snap *model.DispatchSnapshot) error {
	m.dispatch[snap.ID] = *snap
	return nil
}

func (m *memStore) GetDispatch(_ context.Context, id string) (*model.DispatchSnapshot, error) {
	snap, ok := m.dispatch[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (m *memStore) List(context.Context, store.RunFilter) ([]store.RunInfo, error) {
	return m.infos, nil
}

func (m *memStore) Delete(context.Context, string) error       { return nil }
func (m *memStore) DeleteExpired(context.Context) (int, error) { return 0, nil }
func (m *memStore) Migrate(context.Context) error              { return nil }
func (m *memStore) Close() error                               { return nil }

func newTestRouter(st store.RunStore) http.Handler {
	return newRouter(context.Background(), &serverEnv{runs: st})
}

func TestServe_Healthz(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(newMemStore()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_ListRunsEmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	newTestRouter(newMemStore()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestServe_GetRunNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	newTestRouter(newMemStore()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_GetRunByKind(t *testing.T) {
	st := newMemStore()
	st.pipeline["p1"] = model.PipelineSnapshot{ID: "p1", Stage: model.StageAwaitingSchema}
	st.dispatch["d1"] = model.DispatchSnapshot{ID: "d1", Stage: model.StageAwaitingPreview}
	router := newTestRouter(st)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/p1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "awaiting_schema")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/d1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "awaiting_preview")
}

func TestServe_ResumeTerminalRunConflicts(t *testing.T) {
	st := newMemStore()
	st.pipeline["done"] = model.PipelineSnapshot{ID: "done", Stage: model.StageComplete}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/done/resume", strings.NewReader("{}"))
	newTestRouter(st).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not resumable")
}

func TestServe_ResumeRejectsUnknownFields(t *testing.T) {
	st := newMemStore()
	st.dispatch["d1"] = model.DispatchSnapshot{
		ID:        "d1",
		Stage:     model.StageAwaitingPreview,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/d1/resume", strings.NewReader(`{"bogus":true}`))
	newTestRouter(st).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid payload")
}

func TestServe_ResumeMissingRunNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/nope/resume", nil)
	newTestRouter(newMemStore()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
