package adminhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/source"
	"github.com/fanwu/vessel-notifier/internal/statestore"
)

type fakeSource struct{}

func (fakeSource) Info(ctx context.Context) (source.Info, error) {
	return source.Info{Partitions: 3, Backlog: 42}, nil
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.New(rdb, 0)

	log := logrus.NewEntry(logrus.New())
	srv := New(Config{DB: db, Redis: rdb, Store: store, Source: fakeSource{}, Log: log})
	return srv, mock
}

func TestServer_HealthzAlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_ReadyzOKWhenBackingStoresReachable(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_ReadyzFailsWhenDatabaseUnreachable(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_InfoIncludesSourceBacklog(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if want := `"backlog":42`; !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected body to contain %s, got %s", want, rec.Body.String())
	}
}
