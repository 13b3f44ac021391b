package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/internal/vessel"
)

func newTestRecorder(t *testing.T) (*Recorder, *statestore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.New(rdb, time.Hour)
	return New(store), store
}

func TestRecorder_RecordAddsEnumerableFields(t *testing.T) {
	r, store := newTestRecorder(t)
	ctx := context.Background()

	rec := &vessel.Record{
		IMO:                9000001,
		AISDestination:     "Port of Singapore",
		AreaName:           "Singapore Strait",
		AreaNameLevel1:     "Southeast Asia",
		VesselType:         "Tanker",
		VesselClass:        "Crude",
		VesselVoyageStatus: "Underway",
	}
	require.NoError(t, r.Record(ctx, rec))

	card, err := store.DiscoveryCardinalities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, card[statestore.DiscoveredVessels])
	assert.EqualValues(t, 1, card[statestore.DiscoveredDestinations])
	assert.EqualValues(t, 1, card[statestore.DiscoveredAreas])
	assert.EqualValues(t, 1, card[statestore.DiscoveredAreasLevel1])
	assert.EqualValues(t, 1, card[statestore.DiscoveredVesselTypes])
	assert.EqualValues(t, 1, card[statestore.DiscoveredVesselClasses])
	assert.EqualValues(t, 1, card[statestore.DiscoveredVoyageStatuses])
}

func TestRecorder_RecordSkipsEmptyFields(t *testing.T) {
	r, store := newTestRecorder(t)
	ctx := context.Background()

	rec := &vessel.Record{IMO: 9000002}
	require.NoError(t, r.Record(ctx, rec))

	card, err := store.DiscoveryCardinalities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, card[statestore.DiscoveredVessels])
	assert.EqualValues(t, 0, card[statestore.DiscoveredDestinations])
}

func TestRecorder_IdempotentAcrossReplays(t *testing.T) {
	r, store := newTestRecorder(t)
	ctx := context.Background()
	rec := &vessel.Record{IMO: 9000001, AISDestination: "Rotterdam"}

	require.NoError(t, r.Record(ctx, rec))
	require.NoError(t, r.Record(ctx, rec))

	card, err := store.DiscoveryCardinalities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, card[statestore.DiscoveredVessels])
	assert.EqualValues(t, 1, card[statestore.DiscoveredDestinations])
}
