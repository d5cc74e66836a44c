package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_SavePipeline(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), "pipeline", "awaiting_schema", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SavePipeline(context.Background(), pipelineSnap("run-1", model.StageAwaitingSchema, time.Now().Add(time.Hour)))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetPipeline(t *testing.T) {
	s, mock := newMockStore(t)

	body := []byte(`{"id":"run-1","stage":"awaiting_plan","target_profile":"mid-market SaaS","counters":{"processed":3,"succeeded":3,"failed":0,"degraded":0,"qualified":2}}`)
	mock.ExpectQuery("SELECT snapshot FROM runs").
		WithArgs("run-1", "pipeline").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}).AddRow(body))

	got, err := s.GetPipeline(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageAwaitingPlan, got.Stage)
	assert.Equal(t, 2, got.Counters.Qualified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetPipelineNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT snapshot FROM runs").
		WithArgs("missing", "pipeline").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}))

	_, err := s.GetPipeline(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM runs").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.Delete(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteExpired(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM runs WHERE expires_at").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListFilters(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, kind, stage").
		WithArgs("dispatch", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "stage", "created_at", "updated_at", "expires_at"}).
			AddRow("d1", "dispatch", "awaiting_preview", now, now, now.Add(time.Hour)))

	infos, err := s.List(context.Background(), RunFilter{Kind: model.RunKindDispatch})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "d1", infos[0].ID)
	assert.Equal(t, model.StageAwaitingPreview, infos[0].Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
