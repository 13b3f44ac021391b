package processor

import (
	"context"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanwu/vessel-notifier/internal/catalog"
	"github.com/fanwu/vessel-notifier/internal/discovery"
	"github.com/fanwu/vessel-notifier/internal/notifier"
	"github.com/fanwu/vessel-notifier/internal/ruleengine"
	"github.com/fanwu/vessel-notifier/internal/rulestate"
	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/internal/vessel"
)

type fakeLoader struct {
	rules []ruleengine.ActiveRule
}

func (f *fakeLoader) LoadActiveRules(ctx context.Context) ([]ruleengine.ActiveRule, error) {
	return f.rules, nil
}

type fakeBus struct {
	published []string
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	f.published = append(f.published, channel)
	return nil
}

func newTestProcessor(t *testing.T, rules []ruleengine.ActiveRule) (*Processor, *fakeBus) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.New(rdb, 0)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO rule_states").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"rule_id", "entity_id", "state", "last_evaluated_at"}))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	ruleStates := rulestate.NewRepository(sqlxDB)
	notifRepo := notifier.NewRepository(sqlxDB)
	bus := &fakeBus{}
	sink := notifier.New(notifRepo, bus, logrus.NewEntry(logrus.New()))
	disc := discovery.New(store)

	loader := &fakeLoader{rules: rules}
	cat := catalog.New(loader, logrus.NewEntry(logrus.New()))
	require.NoError(t, cat.Start(context.Background(), 60e9))

	return New(cat, store, ruleStates, disc, sink, bus, logrus.NewEntry(logrus.New())), bus
}

func compareRule() ruleengine.ActiveRule {
	cond, _ := json.Marshal(ruleengine.CompareCondition{Field: "Speed", Operator: ruleengine.CompareGt, Value: "20"})
	return ruleengine.ActiveRule{
		Rule: ruleengine.ClientRule{
			ID:           "rule-speed",
			ClientID:     "client-1",
			TypeID:       "type-speed",
			ConditionRaw: cond,
			FiltersRaw:   json.RawMessage(`{}`),
			SettingsRaw:  json.RawMessage(`{}`),
			IsActive:     true,
		},
		Type: ruleengine.NotificationType{
			TypeID:               "type-speed",
			DataSource:            defaultDataSource,
			Evaluator:              ruleengine.EvaluatorCompare,
			DefaultTemplate:        ruleengine.Template{Title: "Speed alert", Message: "{{vesselName}} speed is {{currentValue}}"},
			StateTrackingEnabled:   false,
		},
	}
}

func TestProcessor_ProcessTriggersNotificationForCompareRule(t *testing.T) {
	p, bus := newTestProcessor(t, []ruleengine.ActiveRule{compareRule()})

	rec := &vessel.Record{IMO: 9000001, Latitude: 1.0, Longitude: 2.0, Speed: 25, VesselName: "MV Test"}
	err := p.Process(context.Background(), rec)
	require.NoError(t, err)

	assert.Contains(t, bus.published, "notifications")
	assert.Contains(t, bus.published, "vessel-updates")
}

func TestProcessor_ProcessSkipsRuleWhenFiltersDoNotMatch(t *testing.T) {
	rule := compareRule()
	filters, _ := json.Marshal(ruleengine.Filters{IMOs: []int64{1234567}})
	rule.Rule.FiltersRaw = filters

	p, bus := newTestProcessor(t, []ruleengine.ActiveRule{rule})

	rec := &vessel.Record{IMO: 9000001, Latitude: 1.0, Longitude: 2.0, Speed: 25, VesselName: "MV Test"}
	err := p.Process(context.Background(), rec)
	require.NoError(t, err)

	assert.NotContains(t, bus.published, "notifications")
}

func TestProcessor_ProcessMatchesAreaFilterOnEitherAreaField(t *testing.T) {
	rule := compareRule()
	filters, _ := json.Marshal(ruleengine.Filters{Areas: []string{"North Sea"}})
	rule.Rule.FiltersRaw = filters

	p, bus := newTestProcessor(t, []ruleengine.ActiveRule{rule})

	rec := &vessel.Record{IMO: 9000001, Latitude: 1.0, Longitude: 2.0, Speed: 25, VesselName: "MV Test", AreaNameLevel1: "North Sea"}
	err := p.Process(context.Background(), rec)
	require.NoError(t, err)

	assert.Contains(t, bus.published, "notifications")
}
