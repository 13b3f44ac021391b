// Package statestore is the Redis-backed TTL store for the discovery
// sets, per-entity tracked-field snapshots, position cache, and the
// legacy destination/geofence mirrors (spec §6 keyspace). RuleState
// (per rule/entity transition state) lives in Postgres instead — see
// internal/rulestate — because it must survive
// independent of TTL and is bounded by rule deletion, not record
// volume (spec §4.3 "ruleState ... no TTL; bounded by rule
// lifecycle").
package statestore

import "fmt"

// Discovery set names, literal per spec §6.
const (
	DiscoveredVessels        = "discovered:vessels"
	DiscoveredDestinations   = "discovered:destinations"
	DiscoveredAreas          = "discovered:areas"
	DiscoveredAreasLevel1    = "discovered:areas:level1"
	DiscoveredVesselTypes    = "discovered:vesselTypes"
	DiscoveredVesselClasses  = "discovered:vesselClasses"
	DiscoveredVoyageStatuses = "discovered:voyageStatuses"
)

func vesselKey(imo int64) string {
	return fmt.Sprintf("vessel:%d", imo)
}

func vesselDestinationKey(imo int64) string {
	return fmt.Sprintf("vessel:%d:destination", imo)
}

func vesselGeofenceKey(imo int64, geofenceID string) string {
	return fmt.Sprintf("vessel:%d:geofence:%s", imo, geofenceID)
}

func vesselFullStateKey(imo int64) string {
	return fmt.Sprintf("vessel:fullstate:%d", imo)
}

const vesselPositionsKey = "vessels:positions"
const vesselPositionsGeoKey = "vessels:positions:geo"
