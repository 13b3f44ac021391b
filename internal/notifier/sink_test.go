package notifier

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, channel)
	return nil
}

func TestSink_EmitPersistsAndPublishes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewRepository(sqlxDB)
	pub := &fakePublisher{}
	sink := New(repo, pub, logrus.NewEntry(logrus.New()))

	sink.Emit(context.Background(), ruleengine.Notification{ClientID: "c1", RuleID: "r1"})

	assert.Len(t, pub.published, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_EmitDropsOnPersistenceFailureWithoutPublishing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.ExpectExec("INSERT INTO notifications").WillReturnError(errors.New("connection reset"))

	repo := NewRepository(sqlxDB)
	pub := &fakePublisher{}
	sink := New(repo, pub, logrus.NewEntry(logrus.New()))

	sink.Emit(context.Background(), ruleengine.Notification{ClientID: "c1", RuleID: "r1"})

	assert.Empty(t, pub.published)
}

func TestSink_EmitKeepsNotificationOnPublishFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewRepository(sqlxDB)
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	sink := New(repo, pub, logrus.NewEntry(logrus.New()))

	sink.Emit(context.Background(), ruleengine.Notification{ClientID: "c1", RuleID: "r1"})

	require.NoError(t, mock.ExpectationsWereMet())
}
