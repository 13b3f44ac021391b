package catalog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

// Repository loads the active rule catalog from Postgres. It mirrors
// the teacher's indexer storage pattern: a thin wrapper around
// *sqlx.DB with one method per query, context-aware throughout.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type ruleRow struct {
	RuleID               string  `db:"rule_id"`
	ClientID             string  `db:"client_id"`
	RuleName             string  `db:"rule_name"`
	Condition            []byte  `db:"condition"`
	Filters              []byte  `db:"filters"`
	Settings             []byte  `db:"settings"`
	GeofenceID           *string `db:"geofence_id"`
	TypeID               string  `db:"type_id"`
	DataSource           string  `db:"data_source"`
	Evaluator            string  `db:"evaluator"`
	DefaultTemplate      []byte  `db:"default_template"`
	StateTrackingEnabled bool    `db:"state_tracking_enabled"`
	FenceName            *string `db:"fence_name"`
	FenceType            *string `db:"fence_type"`
	FenceCoordinates     []byte  `db:"fence_coordinates"`
	FenceCenterLng       *float64 `db:"fence_center_lng"`
	FenceCenterLat       *float64 `db:"fence_center_lat"`
	FenceRadiusKm        *float64 `db:"fence_radius_km"`
}

const activeRulesQuery = `
SELECT
	cr.id                          AS rule_id,
	cr.client_id                   AS client_id,
	cr.name                        AS rule_name,
	cr.condition                   AS condition,
	cr.filters                     AS filters,
	cr.settings                    AS settings,
	cr.geofence_id                 AS geofence_id,
	nt.type_id                     AS type_id,
	nt.data_source                 AS data_source,
	nt.evaluator                   AS evaluator,
	nt.default_template            AS default_template,
	nt.state_tracking_enabled      AS state_tracking_enabled,
	gf.name                        AS fence_name,
	gf.geofence_type               AS fence_type,
	gf.coordinates                 AS fence_coordinates,
	gf.center_lng                  AS fence_center_lng,
	gf.center_lat                  AS fence_center_lat,
	gf.radius_km                   AS fence_radius_km
FROM client_rules cr
JOIN notification_types nt ON nt.type_id = cr.type_id
LEFT JOIN geofences gf ON gf.id = cr.geofence_id
WHERE cr.is_active = true AND nt.type_id IS NOT NULL
`

// LoadActiveRules fetches every active ClientRule joined with its
// NotificationType and (if any) Geofence in one round trip (spec
// §4.4 "one query, not N+1").
func (r *Repository) LoadActiveRules(ctx context.Context) ([]ruleengine.ActiveRule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, activeRulesQuery); err != nil {
		return nil, fmt.Errorf("catalog: load active rules: %w", err)
	}

	out := make([]ruleengine.ActiveRule, 0, len(rows))
	for _, row := range rows {
		active := ruleengine.ActiveRule{
			Rule: ruleengine.ClientRule{
				ID:           row.RuleID,
				ClientID:     row.ClientID,
				TypeID:       row.TypeID,
				Name:         row.RuleName,
				ConditionRaw: row.Condition,
				FiltersRaw:   row.Filters,
				SettingsRaw:  row.Settings,
				IsActive:     true,
				GeofenceID:   row.GeofenceID,
			},
			Type: ruleengine.NotificationType{
				TypeID:                row.TypeID,
				DataSource:            row.DataSource,
				Evaluator:             ruleengine.EvaluatorKind(row.Evaluator),
				DefaultTemplateRaw:    row.DefaultTemplate,
				StateTrackingEnabled:  row.StateTrackingEnabled,
			},
		}

		if tmpl, err := decodeTemplate(row.DefaultTemplate); err == nil {
			active.Type.DefaultTemplate = tmpl
		}

		if row.GeofenceID != nil && row.FenceName != nil {
			fence := &ruleengine.Geofence{
				ID:         *row.GeofenceID,
				ClientID:   row.ClientID,
				Name:       *row.FenceName,
				Type:       ruleengine.GeofenceType(derefString(row.FenceType)),
				CoordsJSON: row.FenceCoordinates,
				CenterLng:  row.FenceCenterLng,
				CenterLat:  row.FenceCenterLat,
				RadiusKm:   row.FenceRadiusKm,
				IsActive:   true,
			}
			if coords, err := decodeCoordinates(row.FenceCoordinates); err == nil {
				fence.Coordinates = coords
			}
			active.Geofence = fence
		}

		out = append(out, active)
	}
	return out, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
