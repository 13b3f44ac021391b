// Package notifier implements C7: appends notifications to the
// relational store and publishes them onto the broadcast channel
// (spec §4.7). Live record snapshots and discovery counts are
// published by the processor and the app, not here.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

// Repository appends Notification rows to Postgres.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const insertNotification = `
INSERT INTO notifications (id, client_id, rule_id, type_id, title, message, payload, priority, status, created_at, expires_at)
VALUES (:id, :client_id, :rule_id, :type_id, :title, :message, :payload, :priority, :status, :created_at, :expires_at)
`

// Append writes one notification, assigning it a new UUID, the current
// time as CreatedAt and pending status in-process before the insert
// (spec §4.7 "append(notification)").
func (r *Repository) Append(ctx context.Context, n ruleengine.Notification) (ruleengine.Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = timeNow()
	n.Status = ruleengine.StatusPending

	_, err := r.db.NamedExecContext(ctx, insertNotification, n)
	if err != nil {
		return ruleengine.Notification{}, fmt.Errorf("notifier: append notification for rule %s: %w", n.RuleID, err)
	}
	return n, nil
}

// timeNow is a var so tests can freeze it.
var timeNow = time.Now
