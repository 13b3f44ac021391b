package catalog

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_LoadActiveRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := NewRepository(sqlxDB)

	cols := []string{
		"rule_id", "client_id", "rule_name", "condition", "filters", "settings", "geofence_id",
		"type_id", "data_source", "evaluator", "default_template", "state_tracking_enabled",
		"fence_name", "fence_type", "fence_coordinates", "fence_center_lng", "fence_center_lat", "fence_radius_km",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"rule-1", "client-1", "Speed Alert", []byte(`{"field":"Speed","operator":"gt","value":20}`), []byte(`{}`), []byte(`{}`), nil,
		"speed_alert", "vessel_position", "compare", []byte(`{"title":"Speed","message":"fast"}`), false,
		nil, nil, nil, nil, nil, nil,
	)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	rules, err := repo.LoadActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-1", rules[0].Rule.ID)
	assert.Equal(t, "Speed", rules[0].Type.DefaultTemplate.Title)
	assert.Nil(t, rules[0].Geofence)
	require.NoError(t, mock.ExpectationsWereMet())
}
