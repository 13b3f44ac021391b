// Package processor implements C6: the per-record orchestrator. For
// each consumed vessel record it updates the positions snapshot,
// publishes a vessel-update, records discovery, evaluates every
// applicable rule from the current catalog snapshot, persists
// transition state, emits notifications, and finally rolls the
// tracked-fields snapshot forward (spec §4.6).
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/broadcast"
	"github.com/fanwu/vessel-notifier/internal/catalog"
	"github.com/fanwu/vessel-notifier/internal/discovery"
	"github.com/fanwu/vessel-notifier/internal/notifier"
	"github.com/fanwu/vessel-notifier/internal/ruleengine"
	"github.com/fanwu/vessel-notifier/internal/rulestate"
	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/internal/vessel"
)

const defaultDataSource = "vessel.state"

// NotificationRetention is the default expiresAt window (spec §3
// "typically 7 days").
const NotificationRetention = 7 * 24 * time.Hour

// Publisher is the subset of broadcast.Bus the processor needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Processor is the C6 orchestrator.
type Processor struct {
	catalog    *catalog.Catalog
	store      *statestore.Store
	ruleStates *rulestate.Repository
	discovery  *discovery.Recorder
	sink       *notifier.Sink
	bus        Publisher
	log        *logrus.Entry
}

// New wires together every collaborator the processor needs.
func New(cat *catalog.Catalog, store *statestore.Store, ruleStates *rulestate.Repository, disc *discovery.Recorder, sink *notifier.Sink, bus Publisher, log *logrus.Entry) *Processor {
	return &Processor{
		catalog:    cat,
		store:      store,
		ruleStates: ruleStates,
		discovery:  disc,
		sink:       sink,
		bus:        bus,
		log:        log,
	}
}

// Process runs the full 7-step pipeline for one record (spec §4.6).
// Errors from individual rules, from discovery and from publishing are
// caught and logged; only a failed state write (saving the position,
// the destination or the tracked-field snapshot) is returned, since
// the caller (the Record Source) uses a non-nil return to decide
// whether it is safe to advance the commit point (spec §4.1
// backpressure contract, §5 "offset ... NOT advanced unless at least
// the state writes for the current record succeeded").
func (p *Processor) Process(ctx context.Context, rec *vessel.Record) error {
	if rec.HasValidPosition() {
		if err := p.store.SaveLastPosition(ctx, rec); err != nil {
			return fmt.Errorf("processor: save position for IMO %d: %w", rec.IMO, err)
		}
		if err := p.bus.Publish(ctx, broadcast.ChannelVesselUpdates, broadcast.VesselUpdatePayload{Vessel: rec, Timestamp: timeNow()}); err != nil {
			p.log.WithError(err).WithField("imo", rec.IMO).Warn("processor: failed to publish vessel update")
		}
	}

	if err := p.discovery.Record(ctx, rec); err != nil {
		p.log.WithError(err).WithField("imo", rec.IMO).Warn("processor: discovery recording failed")
	}

	snap := p.catalog.Current()
	rules := snap.RulesForDataSource(defaultDataSource)

	var trackedSnapshot *ruleengine.EntityTrackedState
	for _, active := range rules {
		if !matchesFilters(active.Rule, rec) {
			continue
		}
		if err := p.evaluateRule(ctx, active, rec, &trackedSnapshot); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"ruleId": active.Rule.ID, "imo": rec.IMO}).Warn("processor: rule evaluation failed, skipping rule")
		}
	}

	if err := p.store.SaveDestination(ctx, rec.IMO, rec.AISDestination); err != nil {
		return fmt.Errorf("processor: save destination for IMO %d: %w", rec.IMO, err)
	}

	if err := p.store.SaveTrackedSnapshot(ctx, rec.IMO, rec.TrackedSnapshot()); err != nil {
		return fmt.Errorf("processor: save tracked snapshot for IMO %d: %w", rec.IMO, err)
	}

	return nil
}

func (p *Processor) evaluateRule(ctx context.Context, active ruleengine.ActiveRule, rec *vessel.Record, trackedCache **ruleengine.EntityTrackedState) error {
	rule := active.Rule
	typ := active.Type

	var prevRuleState *ruleengine.RuleState
	if typ.StateTrackingEnabled {
		st, err := p.ruleStates.Load(ctx, rule.ID, rec.IMO)
		if err != nil {
			return fmt.Errorf("load rule state: %w", err)
		}
		prevRuleState = st
	}

	var decision ruleengine.Decision
	var err error

	switch typ.Evaluator {
	case ruleengine.EvaluatorGeofence:
		decision, err = ruleengine.EvaluateGeofence(rule, active.Geofence, rec, prevRuleState)
	case ruleengine.EvaluatorCompare:
		decision, err = ruleengine.EvaluateCompare(rule, rec)
	case ruleengine.EvaluatorChange:
		decision, err = ruleengine.EvaluateChange(rule, rec, prevRuleState)
	case ruleengine.EvaluatorDynamic:
		if *trackedCache == nil {
			snapshot, loadErr := p.store.TrackedSnapshot(ctx, rec.IMO)
			if loadErr != nil {
				return fmt.Errorf("load tracked snapshot: %w", loadErr)
			}
			if snapshot == nil {
				snapshot = &ruleengine.EntityTrackedState{Fields: map[string]string{}}
			}
			*trackedCache = snapshot
		}
		decision, err = ruleengine.EvaluateDynamic(rule, rec, *trackedCache)
	default:
		return fmt.Errorf("unknown evaluator %q", typ.Evaluator)
	}
	if err != nil {
		return err
	}

	if typ.StateTrackingEnabled && decision.NewState != nil {
		if err := p.ruleStates.Upsert(ctx, rule.ID, rec.IMO, decision.NewState); err != nil {
			return fmt.Errorf("upsert rule state: %w", err)
		}
	}

	if typ.Evaluator == ruleengine.EvaluatorGeofence && rule.GeofenceID != nil && decision.NewState != nil {
		var st ruleengine.GeofenceState
		if err := json.Unmarshal(decision.NewState, &st); err == nil {
			if err := p.store.SaveGeofenceHint(ctx, rec.IMO, *rule.GeofenceID, st.IsInside); err != nil {
				p.log.WithError(err).WithFields(logrus.Fields{"ruleId": rule.ID, "imo": rec.IMO}).Warn("processor: failed to cache geofence hint")
			}
		}
	}

	if !decision.Triggered {
		return nil
	}

	tmpl := ruleengine.EffectiveTemplate(rule, typ)
	renderCtx := mergeIdentityContext(decision.Context, rec)

	notification := ruleengine.Notification{
		ClientID: rule.ClientID,
		RuleID:   rule.ID,
		TypeID:   typ.TypeID,
		Title:    ruleengine.RenderTemplate(tmpl.Title, renderCtx),
		Message:  ruleengine.RenderTemplate(tmpl.Message, renderCtx),
		Payload:  mustMarshalPayload(renderCtx),
		Priority: ruleengine.PriorityNormal,
		Status:   ruleengine.StatusPending,
		ExpiresAt: timeNow().Add(NotificationRetention),
	}
	p.sink.Emit(ctx, notification)
	return nil
}

// matchesFilters implements spec §4.6a: every non-empty filter set
// must contain the record's corresponding field. areas matches
// against either AreaName or AreaNameLevel1.
func matchesFilters(rule ruleengine.ClientRule, rec *vessel.Record) bool {
	filters, err := rule.Filters()
	if err != nil {
		return false
	}
	if len(filters.IMOs) > 0 && !containsInt64(filters.IMOs, rec.IMO) {
		return false
	}
	if len(filters.VesselTypes) > 0 && !containsString(filters.VesselTypes, rec.VesselType) {
		return false
	}
	if len(filters.VesselClasses) > 0 && !containsString(filters.VesselClasses, rec.VesselClass) {
		return false
	}
	if len(filters.VesselNames) > 0 && !containsString(filters.VesselNames, rec.VesselName) {
		return false
	}
	if len(filters.Areas) > 0 && !containsString(filters.Areas, rec.AreaName) && !containsString(filters.Areas, rec.AreaNameLevel1) {
		return false
	}
	return true
}

func containsInt64(set []int64, v int64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// mergeIdentityContext implements spec §4.5.6: "substitution set =
// context ∪ record identity fields".
func mergeIdentityContext(evalCtx map[string]interface{}, rec *vessel.Record) map[string]interface{} {
	merged := make(map[string]interface{}, len(evalCtx)+8)
	merged["vesselName"] = rec.VesselName
	merged["imo"] = strconv.FormatInt(rec.IMO, 10)
	merged["latitude"] = rec.Latitude
	merged["longitude"] = rec.Longitude
	merged["speed"] = rec.Speed
	merged["destination"] = rec.AISDestination
	merged["status"] = rec.VesselStatus
	merged["timestamp"] = timeNow()
	for k, v := range evalCtx {
		merged[k] = v
	}
	return merged
}

func mustMarshalPayload(ctx map[string]interface{}) []byte {
	data, err := json.Marshal(ctx)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// timeNow is a var so tests can freeze it.
var timeNow = time.Now
