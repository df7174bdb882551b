package database

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruppenschlau/gruppenschlau/core"
)

func Test_createAppUser(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Database.User = "gruppenschlau"
	conf.Database.Password = "it's-secret"
	lookup := regexp.QuoteMeta("SELECT true FROM pg_roles WHERE rolname = $1")

	t.Run("exists", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(lookup).WithArgs("gruppenschlau").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))

		assert.NoError(t, createAppUser(db, conf))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("created", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(lookup).WithArgs("gruppenschlau").WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectExec(regexp.QuoteMeta(`CREATE USER "gruppenschlau" CREATEDB ENCRYPTED PASSWORD 'it''s-secret'`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, createAppUser(db, conf))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no app user configured", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		noUser := core.NewTestConfig()
		assert.NoError(t, createAppUser(db, noUser))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func Test_createDB(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Database.Name = "gruppenschlau_test"
	lookup := regexp.QuoteMeta("SELECT true FROM pg_database WHERE datname = $1")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(lookup).WithArgs("gruppenschlau_test").WillReturnRows(sqlmock.NewRows([]string{"bool"}))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "gruppenschlau_test"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, createDB(db, conf))

	mock.ExpectQuery(lookup).WithArgs("gruppenschlau_test").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	require.NoError(t, createDB(db, conf))

	assert.NoError(t, mock.ExpectationsWereMet())
}
