// Package domain models irrigation programs and the weather changes that
// adjust them.
//
// # Program lifecycle
//
// A program is created scheduled by the planning side and then moves through
// a closed state machine:
//
//	scheduled --claim--> running --complete--> completed
//	                        |
//	                        +--release--> scheduled   (transient failure, retried next tick)
//	scheduled|running --cancel--> cancelled            (terminal failure or extreme rain)
//
// [Status.Apply] is the only place transitions are decided; every other pair
// yields [ErrIllegalTransition]. Completed and cancelled are terminal.
//
// Writers never overwrite blindly. Each persisted program carries a Version,
// and stores refuse a write whose Version no longer matches
// ([ErrConcurrentClaim]). Claiming additionally re-reads the row under the
// strongest isolation the store offers, so two workers observing the same
// scheduled program cannot both execute it.
//
// # Weather change events
//
// The forecast service publishes one message per station whenever a stored
// forecast is replaced. Messages are keyed "station-<id>" so a station's
// changes stay ordered within a partition. The payload carries the previous
// and the new snapshot:
//
//	{"stationId":7,"stationNom":"Meknes",
//	 "oldConditions":{"temperatureMax":24.0,"pluiePrevue":0.0,"vent":10.0,"date":"2025-03-02T00:00:00"},
//	 "newConditions":{"temperatureMax":26.5,"pluiePrevue":25.0,"vent":12.0,"date":"2025-03-02T00:00:00"},
//	 "timestamp":"2025-03-01T18:20:00","severity":"CRITICAL","description":"..."}
//
// Zone-less date-times are read as UTC. Any measurement may be absent; an
// absent value contributes nothing to a difference.
//
// # Severity classification
//
// [Classify] compares absolute differences of maximum temperature (°C), rain
// (mm) and wind (km/h); the first tier whose threshold is exceeded wins:
//
//	Critical: rain > 20 | temp > 10 | wind > 20
//	High:     rain > 10 | temp > 5  | wind > 10
//	Medium:   rain > 5  | temp > 3  | wind > 5
//	Low:      otherwise
//
// The consumer recomputes the tier rather than trusting the producer, so the
// rules that act on it and the thresholds that select it cannot drift apart.
package domain
