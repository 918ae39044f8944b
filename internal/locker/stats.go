package locker

import (
	"sync/atomic"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// StatsReport is the nested form of Stats: section (resource type name or
// "oplog"), then counter name, then legacy mode name. Zero counters are
// left out.
type StatsReport map[string]map[string]map[string]int64

type modeCounters struct {
	numAcquisitions        atomic.Int64
	numWaits               atomic.Int64
	combinedWaitTimeMicros atomic.Int64
	numDeadlocks           atomic.Int64
}

// Stats counts acquisitions, waits, wait time and deadlocks per resource
// type and mode. The oplog collection is counted separately.
type Stats struct {
	types [resource.TypeCount][lockmanager.ModeCount]modeCounters
	oplog [lockmanager.ModeCount]modeCounters
}

func (s *Stats) get(id resource.ID, mode lockmanager.Mode) *modeCounters {
	if id == resource.Oplog {
		return &s.oplog[mode]
	}
	return &s.types[id.Type()][mode]
}

// RecordAcquisition counts one acquisition attempt.
func (s *Stats) RecordAcquisition(id resource.ID, mode lockmanager.Mode) {
	s.get(id, mode).numAcquisitions.Add(1)
}

// RecordWait counts one acquisition that had to wait.
func (s *Stats) RecordWait(id resource.ID, mode lockmanager.Mode) {
	s.get(id, mode).numWaits.Add(1)
}

// RecordWaitTime adds to the time spent waiting.
func (s *Stats) RecordWaitTime(id resource.ID, mode lockmanager.Mode, micros int64) {
	s.get(id, mode).combinedWaitTimeMicros.Add(micros)
}

// RecordDeadlock counts one acquisition abandoned on a deadlock.
func (s *Stats) RecordDeadlock(id resource.ID, mode lockmanager.Mode) {
	s.get(id, mode).numDeadlocks.Add(1)
}

// Append adds the counters of other to s.
func (s *Stats) Append(other *Stats) {
	for t := range s.types {
		for m := range s.types[t] {
			s.types[t][m].add(&other.types[t][m])
		}
	}
	for m := range s.oplog {
		s.oplog[m].add(&other.oplog[m])
	}
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	for t := range s.types {
		for m := range s.types[t] {
			s.types[t][m].reset()
		}
	}
	for m := range s.oplog {
		s.oplog[m].reset()
	}
}

// Report renders the non zero counters.
func (s *Stats) Report() StatsReport {
	report := StatsReport{}
	for t := resource.TypeGlobal; t < resource.TypeCount; t++ {
		addSection(report, t.String(), &s.types[t])
	}
	addSection(report, "oplog", &s.oplog)
	return report
}

func addSection(report StatsReport, name string, counters *[lockmanager.ModeCount]modeCounters) {
	section := map[string]map[string]int64{}
	add := func(counter string, mode lockmanager.Mode, v int64) {
		if v <= 0 {
			return
		}
		if section[counter] == nil {
			section[counter] = map[string]int64{}
		}
		section[counter][mode.LegacyName()] = v
	}
	for m := lockmanager.ModeIS; m < lockmanager.ModeCount; m++ {
		c := &counters[m]
		add("acquireCount", m, c.numAcquisitions.Load())
		add("acquireWaitCount", m, c.numWaits.Load())
		add("timeAcquiringMicros", m, c.combinedWaitTimeMicros.Load())
		add("deadlockCount", m, c.numDeadlocks.Load())
	}
	if len(section) != 0 {
		report[name] = section
	}
}

func (c *modeCounters) add(other *modeCounters) {
	c.numAcquisitions.Add(other.numAcquisitions.Load())
	c.numWaits.Add(other.numWaits.Load())
	c.combinedWaitTimeMicros.Add(other.combinedWaitTimeMicros.Load())
	c.numDeadlocks.Add(other.numDeadlocks.Load())
}

func (c *modeCounters) reset() {
	c.numAcquisitions.Store(0)
	c.numWaits.Store(0)
	c.combinedWaitTimeMicros.Store(0)
	c.numDeadlocks.Store(0)
}

const numStatsPartitions = 8

// GlobalStats aggregates Stats of all Lockers. Writes are spread over
// partitions by locker id to keep concurrent Lockers off the same counters.
type GlobalStats struct {
	partitions [numStatsPartitions]Stats
}

func (g *GlobalStats) partition(id lockmanager.LockerID) *Stats {
	return &g.partitions[uint64(id)%numStatsPartitions]
}

// Merged returns a copy of all partitions added together.
func (g *GlobalStats) Merged() *Stats {
	merged := &Stats{}
	for i := range g.partitions {
		merged.Append(&g.partitions[i])
	}
	return merged
}

// Report renders the merged counters.
func (g *GlobalStats) Report() StatsReport {
	return g.Merged().Report()
}

// Reset zeroes all partitions.
func (g *GlobalStats) Reset() {
	for i := range g.partitions {
		g.partitions[i].Reset()
	}
}
