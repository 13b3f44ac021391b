package rulestate

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_LoadMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := NewRepository(sqlxDB)

	cols := []string{"rule_id", "entity_id", "state", "last_evaluated_at"}
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(cols))

	st, err := repo.Load(context.Background(), "rule-1", 9000001)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRepository_LoadHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := NewRepository(sqlxDB)

	cols := []string{"rule_id", "entity_id", "state", "last_evaluated_at"}
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(cols).AddRow("rule-1", 9000001, []byte(`{"isInside":true}`), time.Now()))

	st, err := repo.Load(context.Background(), "rule-1", 9000001)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "rule-1", st.RuleID)
}

func TestRepository_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := NewRepository(sqlxDB)

	mock.ExpectExec("INSERT INTO rule_states").WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Upsert(context.Background(), "rule-1", 9000001, []byte(`{"isInside":true}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
