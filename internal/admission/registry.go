// Package admission implements the gates between "a trigger occurred" and "an
// evaluation cycle is admitted": the static trigger registry, the pure cost
// gate, the coarse trigger evaluator, and the authoritative run-state
// admission lock.
package admission

import "time"

// Trigger categories accepted by the pipeline. The set is closed; anything
// else is rejected by the cost gate with UNKNOWN_TRIGGER_TYPE.
const (
	TriggerSignalArrived       = "SIGNAL_ARRIVED"
	TriggerLifecycleTransition = "LIFECYCLE_TRANSITION"
	TriggerPeriodicReview      = "PERIODIC_REVIEW"
	TriggerUserInitiated       = "USER_INITIATED"
)

// RegistryEntry is the static per-trigger-type admission configuration.
type RegistryEntry struct {
	DebounceSeconds   int64
	CooldownSeconds   int64
	MaxPerAccountHour int // 0 means unbounded
}

// Registry maps trigger types to their admission configuration.
type Registry map[string]RegistryEntry

// DefaultRegistry returns the built-in trigger configuration.
func DefaultRegistry() Registry {
	return Registry{
		TriggerSignalArrived:       {DebounceSeconds: 300, CooldownSeconds: 3600, MaxPerAccountHour: 4},
		TriggerLifecycleTransition: {DebounceSeconds: 60, CooldownSeconds: 1800, MaxPerAccountHour: 6},
		TriggerPeriodicReview:      {DebounceSeconds: 0, CooldownSeconds: 86400, MaxPerAccountHour: 1},
		TriggerUserInitiated:       {DebounceSeconds: 0, CooldownSeconds: 300, MaxPerAccountHour: 12},
	}
}

// Lookup returns the entry for the trigger type, and whether it is known.
func (r Registry) Lookup(triggerType string) (RegistryEntry, bool) {
	entry, ok := r[triggerType]
	return entry, ok
}

// Cooldown returns the entry's cooldown as a duration.
func (e RegistryEntry) Cooldown() time.Duration {
	return time.Duration(e.CooldownSeconds) * time.Second
}
