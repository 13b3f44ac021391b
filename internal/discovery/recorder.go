// Package discovery implements C2: for each record, record first-seen
// values of the tracked enumerable fields into named Redis sets so the
// UI can offer autocomplete (spec §4.2).
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/internal/vessel"
)

// Recorder writes discovery sets via a statestore.Store.
type Recorder struct {
	store *statestore.Store
}

// New wraps a statestore.Store.
func New(store *statestore.Store) *Recorder {
	return &Recorder{store: store}
}

// Record adds rec's non-empty trimmed enumerable field values to
// their corresponding discovery sets, in one batched round trip (spec
// §4.2). IMO is always added (it is never empty).
func (r *Recorder) Record(ctx context.Context, rec *vessel.Record) error {
	values := make(map[string]string, 7)
	values[statestore.DiscoveredVessels] = fmt.Sprintf("%d", rec.IMO)
	addIfNonEmpty(values, statestore.DiscoveredDestinations, rec.AISDestination)
	addIfNonEmpty(values, statestore.DiscoveredAreas, rec.AreaName)
	addIfNonEmpty(values, statestore.DiscoveredAreasLevel1, rec.AreaNameLevel1)
	addIfNonEmpty(values, statestore.DiscoveredVesselTypes, rec.VesselType)
	addIfNonEmpty(values, statestore.DiscoveredVesselClasses, rec.VesselClass)
	addIfNonEmpty(values, statestore.DiscoveredVoyageStatuses, rec.VesselVoyageStatus)

	if err := r.store.AddDiscoveredValues(ctx, values); err != nil {
		return fmt.Errorf("discovery: record IMO %d: %w", rec.IMO, err)
	}
	return nil
}

func addIfNonEmpty(values map[string]string, setKey, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	values[setKey] = trimmed
}
