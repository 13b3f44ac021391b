// Package source is the durable partitioned log consumer (C1). It
// wraps twmb/franz-go the way the teacher wraps its own brokered
// clients: a thin struct around the vendor client, config-driven
// construction, and explicit lifecycle methods instead of leaking the
// vendor type to callers.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fanwu/vessel-notifier/internal/errorlimit"
	"github.com/fanwu/vessel-notifier/internal/vessel"
	"github.com/fanwu/vessel-notifier/pkg/config"
	"github.com/fanwu/vessel-notifier/pkg/metrics"
)

// Handler processes one decoded record. Returning an error signals the
// Source that it is not safe to advance the commit offset for this
// record (spec §4.1 "commits may be batched but must never outrun
// completed work").
type Handler func(ctx context.Context, rec *vessel.Record) error

// Source consumes vessel.state.changed in consumer-group order and
// hands decoded records to a Handler before advancing its commit
// point.
type Source struct {
	cfg    config.SourceConfig
	client *kgo.Client
	admin  *kadm.Client
	limit  *errorlimit.Limiter
	log    *logrus.Entry
}

// New builds a franz-go client against cfg.Brokers/Topic/ConsumerGroup.
// Consumption starts at the earliest retained offset (for a group with
// no committed offset) when either fromBeginning (spec §6
// "--from-beginning" flag) or cfg.FromBeginning is true.
func New(cfg config.SourceConfig, fromBeginning bool, log *logrus.Entry) (*Source, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BrokerList...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.WithLogger(kgoLogrusAdapter{log}),
	}
	if fromBeginning || cfg.FromBeginning {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("source: new client: %w", err)
	}

	return &Source{
		cfg:    cfg,
		client: client,
		admin:  kadm.NewClient(client),
		limit:  errorlimit.New(cfg.DecodeErrorLogLimit),
		log:    log.WithField("component", "source"),
	}, nil
}

// Run polls until ctx is cancelled, decoding each fetched record and
// passing it to handle. A record's offset is committed only after
// handle returns nil (spec §4.1, §5 "offset for that record is NOT
// advanced unless ... state writes ... succeeded"); a failing handle
// call is retried with the same bounded exponential backoff until it
// succeeds or ctx is cancelled, so later records on the partition are
// not committed past it. Decode failures
// are counted and skip the offending offset without blocking the
// partition (spec §4.1, §7).
func (s *Source) Run(ctx context.Context, handle Handler) error {
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fetches := s.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					return nil
				}
				s.log.WithError(fe.Err).WithField("topic", fe.Topic).WithField("partition", fe.Partition).
					Warn("source: fetch error, reconnecting with backoff")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			metrics.RecordConsumed()

			var vr vessel.Record
			if err := json.Unmarshal(rec.Value, &vr); err != nil {
				metrics.RecordDecodeError()
				if s.limit.ShouldLog("decode_error") {
					s.log.WithError(err).WithField("offset", rec.Offset).WithField("partition", rec.Partition).
						Warn("source: failed to decode record, skipping")
				}
				continue
			}

			for {
				err := handle(ctx, &vr)
				if err == nil {
					break
				}
				s.log.WithError(err).WithField("imo", vr.IMO).
					Error("source: handler failed, retrying before committing offset")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > s.cfg.MaxBackoff {
					backoff = s.cfg.MaxBackoff
				}
			}

			if err := s.client.CommitRecords(ctx, rec); err != nil {
				s.log.WithError(err).Warn("source: commit failed")
				continue
			}
			metrics.RecordCommitted()
		}
	}
}

// Close releases the underlying client. It does not wait for
// in-flight Run calls; callers cancel ctx first (spec §4.8).
func (s *Source) Close() {
	s.client.Close()
}

// Info reports partition count and total backlog (sum of high-low
// across partitions), for the --info admin flag (spec §4.1, §6).
type Info struct {
	Partitions int
	Backlog    int64
}

func (s *Source) Info(ctx context.Context) (Info, error) {
	lows, err := s.admin.ListStartOffsets(ctx, s.cfg.Topic)
	if err != nil {
		return Info{}, fmt.Errorf("source: list start offsets: %w", err)
	}
	highs, err := s.admin.ListEndOffsets(ctx, s.cfg.Topic)
	if err != nil {
		return Info{}, fmt.Errorf("source: list end offsets: %w", err)
	}

	var info Info
	lowByPartition := map[int32]int64{}
	lows.Each(func(lo kadm.ListedOffset) {
		lowByPartition[lo.Partition] = lo.Offset
	})
	highs.Each(func(hi kadm.ListedOffset) {
		info.Partitions++
		info.Backlog += hi.Offset - lowByPartition[hi.Partition]
	})
	return info, nil
}

// Reset deletes the consumer group so the next Run starts fresh from
// the configured offset policy (spec §4.1, §4.8). If the group cannot
// be deleted because it still has members, a fresh group id is
// synthesised and returned; callers must use it for the next New call.
func (s *Source) Reset(ctx context.Context) (newGroupID string, err error) {
	results, err := s.admin.DeleteGroups(ctx, s.cfg.ConsumerGroup)
	if err == nil {
		if gr, ok := results[s.cfg.ConsumerGroup]; ok && gr.Err != nil {
			err = gr.Err
		}
	}
	if err == nil {
		return s.cfg.ConsumerGroup, nil
	}

	fresh := fmt.Sprintf("%s-%d", s.cfg.ConsumerGroup, time.Now().UnixNano())
	s.log.WithError(err).WithField("newGroup", fresh).
		Warn("source: delete group failed (likely non-empty), synthesising fresh group id")
	return fresh, nil
}

type kgoLogrusAdapter struct {
	log *logrus.Entry
}

func (a kgoLogrusAdapter) Level() kgo.LogLevel { return kgo.LogLevelInfo }

func (a kgoLogrusAdapter) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	entry := a.log
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		entry = entry.WithField(key, keyvals[i+1])
	}
	switch level {
	case kgo.LogLevelError:
		entry.Error(msg)
	case kgo.LogLevelWarn:
		entry.Warn(msg)
	case kgo.LogLevelDebug:
		entry.Debug(msg)
	default:
		entry.Info(msg)
	}
}
