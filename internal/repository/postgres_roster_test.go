package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

func setupMockRosterDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresRosterRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresRosterRepo(db, zap.NewNop())
}

func TestPostgresRoster_Snapshot(t *testing.T) {
	db, mock, repo := setupMockRosterDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT payload FROM site_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow(`{"id":"a","name":"A","address":"1","visits":[]}`).
			AddRow(`{"id":"b","name":"B","address":"2","visits":[]}`))
	mock.ExpectQuery(`SELECT payload FROM app_users`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow(`{"id":"1","username":"director","role":"director"}`))

	objects, users, err := repo.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "B", objects[1].Name)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleDirector, users[0].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoster_MergeUpsertsTouchedOnly(t *testing.T) {
	db, mock, repo := setupMockRosterDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT payload FROM site_objects ORDER BY position FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow(`{"id":"a","name":"A","address":"1","visits":[]}`).
			AddRow(`{"id":"b","name":"B","address":"2","visits":[]}`))
	mock.ExpectExec(`INSERT INTO site_objects`).
		WithArgs("b", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM app_users`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO app_users`).
		WithArgs("1", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	merged, err := repo.Merge(context.Background(),
		[]domain.SiteObject{{ID: "b", Name: "B2"}},
		[]domain.User{{ID: "1", Username: "director", Role: domain.RoleDirector}})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "B2", merged[1].Name)
	assert.Equal(t, "2", merged[1].Address)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoster_MergeRollsBackOnError(t *testing.T) {
	db, mock, repo := setupMockRosterDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec(`INSERT INTO site_objects`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.Merge(context.Background(), []domain.SiteObject{{ID: "x", Name: "X"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoster_CorruptPayload(t *testing.T) {
	db, mock, repo := setupMockRosterDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT payload FROM site_objects`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`not json`))

	_, _, err := repo.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt payload")
}
