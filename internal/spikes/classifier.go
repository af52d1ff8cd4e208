// Package spikes partitions the sensors polled in one cycle into spike status
// categories, separately for each population tier. Classification is a pure
// set computation over this cycle's observations and the active-alert state as
// it stood at the start of the cycle.
package spikes

import (
	"sort"

	sensors "spikealerts/internal/sensors/domain"
)

// IDSet is an owned set of sensor ids.
type IDSet map[int64]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...int64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order, for deterministic batching.
func (s IDSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Classification is the per-tier partition of the polled sensor ids.
// A sensor id appears in at most one of New/Ongoing/Ended/Ordinary; Flagged
// overlaps Ended when a flagged sensor still had an open alert to close.
type Classification struct {
	Sensitive bool
	New       IDSet
	Ongoing   IDSet
	Ended     IDSet
	Flagged   IDSet
	Ordinary  IDSet
}

// Classify partitions the polled sensors for one tier.
//
// alerted must be the ids with an active alert in this tier at cycle start,
// already restricted by the caller or not: ids not present in polled are
// ignored here, so sensors the provider omitted are never reclassified.
// Quality-flagged sensors never spike regardless of reading, but a flagged
// sensor holding an alert still surfaces in Ended: a flag closes an alert,
// it never holds one open.
func Classify(sensitive bool, polled []sensors.Observation, alerted IDSet) Classification {
	c := Classification{
		Sensitive: sensitive,
		New:       make(IDSet),
		Ongoing:   make(IDSet),
		Ended:     make(IDSet),
		Flagged:   make(IDSet),
		Ordinary:  make(IDSet),
	}

	spiked := make(IDSet)
	polledIDs := make(IDSet, len(polled))
	for _, obs := range polled {
		polledIDs[obs.SensorID] = struct{}{}
		if obs.Flagged || obs.Descriptor.IsError() {
			c.Flagged[obs.SensorID] = struct{}{}
			continue
		}
		if obs.Descriptor.SpikesFor(sensitive) {
			spiked[obs.SensorID] = struct{}{}
		}
	}

	for id := range spiked {
		if alerted.Contains(id) {
			c.Ongoing[id] = struct{}{}
		} else {
			c.New[id] = struct{}{}
		}
	}
	for id := range alerted {
		if !polledIDs.Contains(id) {
			continue
		}
		if !c.Ongoing.Contains(id) {
			c.Ended[id] = struct{}{}
		}
	}
	for id := range polledIDs {
		if c.New.Contains(id) || c.Ongoing.Contains(id) || c.Ended.Contains(id) || c.Flagged.Contains(id) {
			continue
		}
		c.Ordinary[id] = struct{}{}
	}
	return c
}
