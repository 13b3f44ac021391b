// Package broadcast is the fan-out pub/sub boundary to the external
// delivery layer (spec §9 glossary "Broadcast channel"), implemented
// on Postgres LISTEN/NOTIFY the way the teacher's pkg/pgnotify does
// it, trimmed to the three fixed channels this system needs (spec §6)
// and with the table-change-trigger machinery dropped as out of
// scope. Delivery is at-most-once: a disconnected listener misses
// notifications sent while it was down (spec glossary).
package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Fixed channel names (spec §6 "Broadcast channels").
const (
	ChannelNotifications  = "notifications"
	ChannelVesselUpdates  = "vessel-updates"
	ChannelDiscoveryStats = "discovery-stats"
)

// NotificationPayload is published on ChannelNotifications (spec §6
// "{clientId, notification}").
type NotificationPayload struct {
	ClientID     string      `json:"clientId"`
	Notification interface{} `json:"notification"`
}

// VesselUpdatePayload is published on ChannelVesselUpdates (spec §6
// "{vessel, timestamp}").
type VesselUpdatePayload struct {
	Vessel    interface{} `json:"vessel"`
	Timestamp time.Time   `json:"timestamp"`
}

// DiscoveryStatsPayload is published on ChannelDiscoveryStats (spec
// §6 "{stats, timestamp}").
type DiscoveryStatsPayload struct {
	Stats     map[string]int64 `json:"stats"`
	Timestamp time.Time        `json:"timestamp"`
}

// Handler processes one received message on a channel.
type Handler func(ctx context.Context, payload json.RawMessage)

// Bus is a PostgreSQL NOTIFY/LISTEN based fan-out publisher. The
// processor only ever publishes through it (spec §9 "the processor
// only publishes; the UI only subscribes"). Bus itself offers only
// Publish and Close; it has no subscribe method.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener
	log      *logrus.Entry

	handlers map[string][]Handler
}

// New opens a dedicated connection for NOTIFY and a *pq.Listener for
// LISTEN against dsn (spec §4.8 "connect state store and broadcast
// channel").
func New(dsn string, log *logrus.Entry) (*Bus, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("broadcast: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("broadcast: ping: %w", err)
	}

	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).Warn("broadcast: listener connection event")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	return &Bus{
		db:       db,
		listener: listener,
		log:      log,
		handlers: make(map[string][]Handler),
	}, nil
}

// Publish sends payload on channel via pg_notify (spec §4.7
// "publish(channel, payload) ... at-most-once").
func (b *Bus) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast: marshal payload for %s: %w", channel, err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(data)); err != nil {
		return fmt.Errorf("broadcast: notify %s: %w", channel, err)
	}
	return nil
}

// Close shuts down the listener and publisher connection (spec §4.8
// shutdown order: "close broadcast, then close relational store").
func (b *Bus) Close() error {
	if err := b.listener.Close(); err != nil {
		b.log.WithError(err).Warn("broadcast: error closing listener")
	}
	return b.db.Close()
}
