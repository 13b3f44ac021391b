package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fanwu/vessel-notifier/internal/ruleengine"
	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// Store wraps a Redis client with the literal keyspace from spec §6.
// It is the fast, TTL-bounded half of the system's state: discovery
// markers, the last raw position per vessel, and the per-entity
// tracked-fields snapshot the dynamic evaluator reads. Durable,
// rule-scoped transition state (RuleState) lives in Postgres — see
// internal/rulestate.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an already-connected *redis.Client. ttl is applied to the
// destination, geofence-flag and tracked-snapshot keys; the legacy
// vessel:{IMO} key uses a fixed 1h TTL, and the discovery sets, the
// vessels:positions hash and its geo index carry no TTL.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// AddDiscoveredValues adds one value to each of the given discovery
// sets in a single Redis pipeline round trip (spec §4.2 "adds are
// batched into one round trip per record"). Empty values are skipped
// by the caller (discovery.Recorder), not here.
func (s *Store) AddDiscoveredValues(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for setKey, value := range values {
		pipe.SAdd(ctx, setKey, value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("statestore: add discovered values: %w", err)
	}
	return nil
}

// DiscoveryCardinalities reports the current size of every discovery
// set, for the periodic stats publish (spec §4.2, §7 "stats channel
// carries cardinalities").
func (s *Store) DiscoveryCardinalities(ctx context.Context) (map[string]int64, error) {
	sets := []string{
		DiscoveredVessels, DiscoveredDestinations, DiscoveredAreas, DiscoveredAreasLevel1,
		DiscoveredVesselTypes, DiscoveredVesselClasses, DiscoveredVoyageStatuses,
	}
	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(sets))
	for _, set := range sets {
		cmds[set] = pipe.SCard(ctx, set)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("statestore: discovery cardinalities: %w", err)
	}
	out := make(map[string]int64, len(sets))
	for set, cmd := range cmds {
		out[set] = cmd.Val()
	}
	return out, nil
}

// ResetDiscoverySets clears every discovery set (spec §4.8 "reset ...
// clear discovery sets").
func (s *Store) ResetDiscoverySets(ctx context.Context) error {
	sets := []string{
		DiscoveredVessels, DiscoveredDestinations, DiscoveredAreas, DiscoveredAreasLevel1,
		DiscoveredVesselTypes, DiscoveredVesselClasses, DiscoveredVoyageStatuses,
	}
	if err := s.rdb.Del(ctx, sets...).Err(); err != nil {
		return fmt.Errorf("statestore: reset discovery sets: %w", err)
	}
	return nil
}

// PurgeEntityState deletes every per-entity key ("vessel:*" — last
// position, destination, geofence flags, tracked-fields snapshot) for
// an explicit --reset (spec §4.8 "purge all per-entity state in C3,
// keys prefixed by entity"). It does not touch vessels:positions,
// which is a global index rather than per-entity state.
func (s *Store) PurgeEntityState(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "vessel:*", 500).Result()
		if err != nil {
			return fmt.Errorf("statestore: scan entity keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("statestore: delete entity keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// SaveLastPosition stores the most recent raw record for an IMO under
// the legacy key vessel:{IMO} (1h TTL), and under the vessels:positions
// hash (field = IMO, value = JSON record), which carries no TTL of its
// own (spec §4.3 "positions ... no TTL"). It also updates
// vessels:positions:geo, a geo-indexed set enrichment for ad-hoc "who
// is nearby" admin queries, not itself part of the spec's keyspace.
func (s *Store) SaveLastPosition(ctx context.Context, rec *vessel.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("statestore: marshal record for IMO %d: %w", rec.IMO, err)
	}
	if err := s.rdb.Set(ctx, vesselKey(rec.IMO), raw, time.Hour).Err(); err != nil {
		return fmt.Errorf("statestore: save last position for IMO %d: %w", rec.IMO, err)
	}
	if err := s.rdb.HSet(ctx, vesselPositionsKey, strconv.FormatInt(rec.IMO, 10), raw).Err(); err != nil {
		return fmt.Errorf("statestore: update positions snapshot for IMO %d: %w", rec.IMO, err)
	}
	if rec.HasValidPosition() {
		geoAdd := &redis.GeoLocation{
			Name:      fmt.Sprintf("%d", rec.IMO),
			Longitude: rec.Longitude,
			Latitude:  rec.Latitude,
		}
		if err := s.rdb.GeoAdd(ctx, vesselPositionsGeoKey, geoAdd).Err(); err != nil {
			return fmt.Errorf("statestore: update position geo index for IMO %d: %w", rec.IMO, err)
		}
	}
	return nil
}

// PositionsSnapshot returns every cached position keyed by IMO, reading
// the vessels:positions hash in one round trip (spec §4.3 "positions
// snapshot").
func (s *Store) PositionsSnapshot(ctx context.Context) (map[int64]*vessel.Record, error) {
	raw, err := s.rdb.HGetAll(ctx, vesselPositionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("statestore: load positions snapshot: %w", err)
	}
	out := make(map[int64]*vessel.Record, len(raw))
	for field, value := range raw {
		imo, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var rec vessel.Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("statestore: decode positions snapshot entry for IMO %s: %w", field, err)
		}
		out[imo] = &rec
	}
	return out, nil
}

// LastPosition returns the most recently stored record for imo, or
// nil if none is cached (expired or never seen).
func (s *Store) LastPosition(ctx context.Context, imo int64) (*vessel.Record, error) {
	raw, err := s.rdb.Get(ctx, vesselKey(imo)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: load last position for IMO %d: %w", imo, err)
	}
	var rec vessel.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("statestore: decode last position for IMO %d: %w", imo, err)
	}
	return &rec, nil
}

// SaveDestination caches the vessel's last AIS destination string
// under vessel:{IMO}:destination, for display/diagnostic use
// independent of any change-evaluator RuleState (spec §6).
func (s *Store) SaveDestination(ctx context.Context, imo int64, destination string) error {
	if err := s.rdb.Set(ctx, vesselDestinationKey(imo), destination, s.ttl).Err(); err != nil {
		return fmt.Errorf("statestore: save destination for IMO %d: %w", imo, err)
	}
	return nil
}

// SaveGeofenceHint caches the last known inside/outside state for a
// (vessel, geofence) pair (spec §6 "vessel:{IMO}:geofence:{geofenceId}").
// The processor writes it after each geofence evaluation; it does not
// read it back, and the authoritative state stays the Postgres
// RuleState.
func (s *Store) SaveGeofenceHint(ctx context.Context, imo int64, geofenceID string, isInside bool) error {
	key := vesselGeofenceKey(imo, geofenceID)
	if err := s.rdb.Set(ctx, key, isInside, s.ttl).Err(); err != nil {
		return fmt.Errorf("statestore: save geofence hint for IMO %d fence %s: %w", imo, geofenceID, err)
	}
	return nil
}

// SaveTrackedSnapshot persists the per-entity tracked-field snapshot
// the dynamic evaluator compares future records against (spec §4.5.4,
// key vessel:fullstate:{IMO}).
func (s *Store) SaveTrackedSnapshot(ctx context.Context, imo int64, snapshot map[string]string) error {
	raw, err := json.Marshal(ruleengine.EntityTrackedState{Fields: snapshot})
	if err != nil {
		return fmt.Errorf("statestore: marshal tracked snapshot for IMO %d: %w", imo, err)
	}
	if err := s.rdb.Set(ctx, vesselFullStateKey(imo), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("statestore: save tracked snapshot for IMO %d: %w", imo, err)
	}
	return nil
}

// TrackedSnapshot loads the per-entity tracked-field snapshot for
// imo, or nil if none is cached.
func (s *Store) TrackedSnapshot(ctx context.Context, imo int64) (*ruleengine.EntityTrackedState, error) {
	raw, err := s.rdb.Get(ctx, vesselFullStateKey(imo)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: load tracked snapshot for IMO %d: %w", imo, err)
	}
	var st ruleengine.EntityTrackedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("statestore: decode tracked snapshot for IMO %d: %w", imo, err)
	}
	return &st, nil
}
