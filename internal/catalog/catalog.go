// Package catalog holds the in-memory rule catalog: an immutable
// snapshot of active geofences, notification types, and client rules,
// refreshed periodically from Postgres and swapped in atomically so
// the processor never blocks on a database read in its hot path
// (spec §4.4).
package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

// Snapshot is one immutable generation of the catalog. Rules are
// pre-joined with their NotificationType and optional Geofence so the
// processor's hot path never performs a lookup miss (spec §4.4).
type Snapshot struct {
	GeneratedAt time.Time
	Rules       []ruleengine.ActiveRule
	byType      map[string][]ruleengine.ActiveRule
}

// RulesForDataSource returns the active rules whose notification type
// targets the given data source (spec §4.6 "rules are grouped by
// dataSource so the processor only evaluates relevant rules per
// record").
func (s *Snapshot) RulesForDataSource(dataSource string) []ruleengine.ActiveRule {
	if s == nil {
		return nil
	}
	return s.byType[dataSource]
}

func buildSnapshot(rules []ruleengine.ActiveRule) *Snapshot {
	byType := make(map[string][]ruleengine.ActiveRule)
	for _, r := range rules {
		byType[r.Type.DataSource] = append(byType[r.Type.DataSource], r)
	}
	return &Snapshot{
		GeneratedAt: timeNow(),
		Rules:       rules,
		byType:      byType,
	}
}

// timeNow is a var so tests can freeze it; production always uses
// time.Now.
var timeNow = time.Now

// Loader fetches the full active rule set from the system of record.
// Implemented by catalog.Repository (Postgres via sqlx).
type Loader interface {
	LoadActiveRules(ctx context.Context) ([]ruleengine.ActiveRule, error)
}

// Catalog owns the current Snapshot and refreshes it on a cron
// schedule, following the teacher's atomic.Pointer swap pattern for
// lock-free reads from many goroutines (spec §4.4, §4.8).
type Catalog struct {
	loader  Loader
	log     *logrus.Entry
	current atomic.Pointer[Snapshot]
	cron    *cron.Cron
}

// New constructs a Catalog backed by loader. Call Start to load the
// first snapshot and begin the periodic refresh.
func New(loader Loader, log *logrus.Entry) *Catalog {
	return &Catalog{
		loader: loader,
		log:    log,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start performs an initial synchronous load, then schedules a
// refresh every interval (default 60s per spec §4.4) using robfig/cron
// so the schedule survives long individual refresh calls without
// overlapping (the cron is built with SkipIfStillRunning, so a tick
// that arrives while a refresh is still running is skipped).
func (c *Catalog) Start(ctx context.Context, interval time.Duration) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("catalog: initial load: %w", err)
	}

	spec := fmt.Sprintf("@every %s", interval)
	_, err := c.cron.AddFunc(spec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := c.refresh(refreshCtx); err != nil {
			c.log.WithError(err).Warn("catalog refresh failed, keeping previous snapshot")
		}
	})
	if err != nil {
		return fmt.Errorf("catalog: schedule refresh: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the refresh schedule.
func (c *Catalog) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *Catalog) refresh(ctx context.Context) error {
	rules, err := c.loader.LoadActiveRules(ctx)
	if err != nil {
		return err
	}
	snap := buildSnapshot(rules)
	c.current.Store(snap)
	c.log.WithField("ruleCount", len(rules)).Info("catalog snapshot refreshed")
	return nil
}

// Current returns the most recently loaded snapshot. Returns nil if
// Start has not yet completed its first load.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}
