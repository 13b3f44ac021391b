package notifier

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/broadcast"
	"github.com/fanwu/vessel-notifier/internal/ruleengine"
)

// Publisher is the subset of broadcast.Bus the sink needs; narrowed
// for testability.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Sink combines the relational append and the broadcast publish into
// the one operation the Processor calls (spec §4.7). A relational
// failure drops the notification and logs a warning (no metric counts
// the drop); a broadcast
// failure is independent and does not undo the append (spec §4.7
// "Sink failures do not fail the record").
type Sink struct {
	repo *Repository
	bus  Publisher
	log  *logrus.Entry
}

// New constructs a Sink.
func New(repo *Repository, bus Publisher, log *logrus.Entry) *Sink {
	return &Sink{repo: repo, bus: bus, log: log}
}

// Emit appends n to the relational store, then publishes it scoped to
// its clientId on the notifications channel (spec §4.6e, §4.7).
func (s *Sink) Emit(ctx context.Context, n ruleengine.Notification) {
	saved, err := s.repo.Append(ctx, n)
	if err != nil {
		s.log.WithError(err).WithField("ruleId", n.RuleID).Warn("notifier: failed to persist notification, dropping")
		return
	}

	payload := broadcast.NotificationPayload{ClientID: saved.ClientID, Notification: saved}
	if err := s.bus.Publish(ctx, broadcast.ChannelNotifications, payload); err != nil {
		s.log.WithError(err).WithField("ruleId", saved.RuleID).Warn("notifier: failed to publish notification, notification remains persisted")
	}
}
