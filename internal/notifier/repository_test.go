package notifier

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

func TestRepository_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := NewRepository(sqlxDB)

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	n := ruleengine.Notification{
		ClientID: "client-1",
		RuleID:   "rule-1",
		TypeID:   "type-1",
		Title:    "Vessel entered Approach",
		Message:  "MV Test entered Approach",
		Payload:  []byte(`{}`),
		Priority: ruleengine.PriorityNormal,
	}
	saved, err := repo.Append(context.Background(), n)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, ruleengine.StatusPending, saved.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
