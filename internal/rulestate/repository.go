// Package rulestate persists per-(rule, entity) transition state (spec
// §3 "Rule state", §4.3 "ruleState[ruleId, entityId] ... no TTL;
// bounded by rule lifecycle"). Unlike the state store's other C3
// containers, ruleState carries no TTL and must survive independent
// of record volume, so it lives in Postgres rather than Redis — see
// SPEC_FULL.md's resolution of the "condition/filters representation"
// open question for the same reasoning applied to RuleState's table.
package rulestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

// Repository reads and upserts RuleState rows.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const loadStateQuery = `SELECT rule_id, entity_id, state, last_evaluated_at FROM rule_states WHERE rule_id = $1 AND entity_id = $2`

// Load fetches the RuleState for (ruleID, entityID), returning nil,
// nil on a miss (spec §3 "created on first evaluation").
func (r *Repository) Load(ctx context.Context, ruleID string, entityID int64) (*ruleengine.RuleState, error) {
	var st ruleengine.RuleState
	err := r.db.GetContext(ctx, &st, loadStateQuery, ruleID, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rulestate: load rule %s entity %d: %w", ruleID, entityID, err)
	}
	return &st, nil
}

const upsertStateQuery = `
INSERT INTO rule_states (rule_id, entity_id, state, last_evaluated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (rule_id, entity_id) DO UPDATE
SET state = EXCLUDED.state, last_evaluated_at = EXCLUDED.last_evaluated_at
`

// Upsert writes the new state for (ruleID, entityID), following the
// teacher's ON CONFLICT upsert idiom (spec §4.6d, §3 "upserted on
// every subsequent evaluation when tracking is enabled").
func (r *Repository) Upsert(ctx context.Context, ruleID string, entityID int64, state []byte) error {
	_, err := r.db.ExecContext(ctx, upsertStateQuery, ruleID, entityID, state, time.Now())
	if err != nil {
		return fmt.Errorf("rulestate: upsert rule %s entity %d: %w", ruleID, entityID, err)
	}
	return nil
}

// DeleteForRule removes every RuleState row for a deleted rule (spec
// §3 "deleted when the rule is deleted").
func (r *Repository) DeleteForRule(ctx context.Context, ruleID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rule_states WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("rulestate: delete for rule %s: %w", ruleID, err)
	}
	return nil
}
