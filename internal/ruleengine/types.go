// Package ruleengine implements the pure evaluator kernel (spec §4.5)
// plus the domain types shared by the rule catalog and the processor.
package ruleengine

import (
	"encoding/json"
	"time"
)

// EvaluatorKind is the closed tagged variant of evaluator families
// (spec §9 design note: "closed tagged variant ... new evaluators are
// additive").
type EvaluatorKind string

const (
	EvaluatorGeofence EvaluatorKind = "geofence"
	EvaluatorCompare  EvaluatorKind = "compare"
	EvaluatorChange   EvaluatorKind = "change"
	EvaluatorDynamic  EvaluatorKind = "dynamic"
)

// GeofenceType distinguishes polygon vs circle geofences (spec §3).
type GeofenceType string

const (
	GeofenceTypePolygon GeofenceType = "polygon"
	GeofenceTypeCircle  GeofenceType = "circle"
)

// TriggerOn controls which geofence transitions fire a notification.
type TriggerOn string

const (
	TriggerOnEnter TriggerOn = "enter"
	TriggerOnExit  TriggerOn = "exit"
	TriggerOnBoth  TriggerOn = "both"
)

// Geofence is a client-owned polygon or circle (spec §3).
type Geofence struct {
	ID          string       `db:"id" json:"id"`
	ClientID    string       `db:"client_id" json:"clientId"`
	Name        string       `db:"name" json:"name"`
	Type        GeofenceType `db:"geofence_type" json:"geofenceType"`
	Coordinates [][2]float64 `db:"-" json:"coordinates,omitempty"`
	CoordsJSON  json.RawMessage `db:"coordinates" json:"-"`
	CenterLng   *float64     `db:"center_lng" json:"centerLng,omitempty"`
	CenterLat   *float64     `db:"center_lat" json:"centerLat,omitempty"`
	RadiusKm    *float64     `db:"radius_km" json:"radiusKm,omitempty"`
	IsActive    bool         `db:"is_active" json:"isActive"`
}

// Template renders notification title/message from {{field}} placeholders
// (spec §4.5.6).
type Template struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NotificationType carries the evaluator binding and rendering default
// for a class of rules (spec §3).
type NotificationType struct {
	TypeID             string        `db:"type_id" json:"typeId"`
	DataSource         string        `db:"data_source" json:"dataSource"`
	Evaluator          EvaluatorKind `db:"evaluator" json:"evaluator"`
	DefaultTemplate    Template      `db:"-" json:"template"`
	DefaultTemplateRaw json.RawMessage `db:"default_template" json:"-"`
	StateTrackingEnabled bool        `db:"state_tracking_enabled" json:"stateTrackingEnabled"`
}

// Filters restricts which records a rule applies to (spec §3, §4.6a).
// Every non-empty set must contain the record's corresponding field
// for the rule to match; empty/nil sets are not applied.
type Filters struct {
	IMOs         []int64  `json:"imos,omitempty"`
	VesselTypes  []string `json:"vesselTypes,omitempty"`
	VesselClasses []string `json:"vesselClasses,omitempty"`
	Areas        []string `json:"areas,omitempty"`
	VesselNames  []string `json:"vesselNames,omitempty"`
}

// RuleSettings carries per-rule overrides, currently just an optional
// template override (spec §3).
type RuleSettings struct {
	Template *Template `json:"template,omitempty"`
}

// ClientRule is one user-configured notification rule (spec §3).
type ClientRule struct {
	ID          string          `db:"id" json:"id"`
	ClientID    string          `db:"client_id" json:"clientId"`
	TypeID      string          `db:"type_id" json:"typeId"`
	Name        string          `db:"name" json:"name"`
	ConditionRaw json.RawMessage `db:"condition" json:"condition"`
	FiltersRaw   json.RawMessage `db:"filters" json:"filters"`
	SettingsRaw  json.RawMessage `db:"settings" json:"settings"`
	IsActive    bool            `db:"is_active" json:"isActive"`
	GeofenceID  *string         `db:"geofence_id" json:"geofenceId,omitempty"`
}

// ActiveRule is a ClientRule joined with its NotificationType and
// (optional) Geofence, as returned by the catalog snapshot (spec
// §4.4).
type ActiveRule struct {
	Rule     ClientRule
	Type     NotificationType
	Geofence *Geofence
}

// Filters decodes the rule's filter document.
func (r *ClientRule) Filters() (Filters, error) {
	var f Filters
	if len(r.FiltersRaw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(r.FiltersRaw, &f); err != nil {
		return f, err
	}
	return f, nil
}

// Settings decodes the rule's settings document.
func (r *ClientRule) Settings() (RuleSettings, error) {
	var s RuleSettings
	if len(r.SettingsRaw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(r.SettingsRaw, &s); err != nil {
		return s, err
	}
	return s, nil
}

// EffectiveTemplate returns the rule's template override if present,
// else the notification type's default (spec §4.6e).
func EffectiveTemplate(rule ClientRule, typ NotificationType) Template {
	settings, err := rule.Settings()
	if err == nil && settings.Template != nil {
		return *settings.Template
	}
	return typ.DefaultTemplate
}

// RuleState is the opaque per-(rule,entity) transition state (spec
// §3). State holds the evaluator-specific document; geofence rules
// store {"isInside": bool}, change rules store {"value": previous}.
type RuleState struct {
	RuleID        string          `db:"rule_id" json:"ruleId"`
	EntityID      int64           `db:"entity_id" json:"entityId"`
	State         json.RawMessage `db:"state" json:"state"`
	LastEvaluated time.Time       `db:"last_evaluated_at" json:"lastEvaluatedAt"`
}

// GeofenceState is the decoded shape of a geofence rule's RuleState.
type GeofenceState struct {
	IsInside bool `json:"isInside"`
}

// ChangeState is the decoded shape of a change rule's RuleState.
type ChangeState struct {
	Value string `json:"value"`
}

// NotificationPriority mirrors the relational schema's priority column.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// NotificationStatus is the lifecycle status of a delivered
// notification (spec §3); the processor only ever writes "pending".
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusDelivered NotificationStatus = "delivered"
	StatusRead      NotificationStatus = "read"
)

// Notification is the append-only output row (spec §3).
type Notification struct {
	ID        string               `db:"id" json:"id"`
	ClientID  string               `db:"client_id" json:"clientId"`
	RuleID    string               `db:"rule_id" json:"ruleId"`
	TypeID    string               `db:"type_id" json:"typeId"`
	Title     string               `db:"title" json:"title"`
	Message   string               `db:"message" json:"message"`
	Payload   json.RawMessage      `db:"payload" json:"payload"`
	Priority  NotificationPriority `db:"priority" json:"priority"`
	Status    NotificationStatus   `db:"status" json:"status"`
	CreatedAt time.Time            `db:"created_at" json:"createdAt"`
	ExpiresAt time.Time            `db:"expires_at" json:"expiresAt"`
}

// Decision is the result of evaluating one rule against one record
// (spec §4.5): whether it fired, the optional transition tag, and the
// context used both for the notification payload and template
// rendering.
type Decision struct {
	Triggered  bool
	Transition string
	Context    map[string]interface{}
	// NewState, when non-nil, is the state to upsert into RuleState
	// when the notification type has stateTracking enabled (spec
	// §4.6d). Geofence and change evaluators return one whenever they
	// evaluate, but none for a record without a valid position
	// (geofence) or whose field cannot be resolved (change); compare
	// never does; dynamic is tracked at the entity level, not
	// per-rule, so it also returns nil here.
	NewState json.RawMessage
}
