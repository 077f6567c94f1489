package egraph

// monitor.go: statistics for the e-graph and the stepping scheduler

import (
	"fmt"
	"sync"
	"time"
)

// Stats holds counters collected while an engine runs.
type Stats struct {
	// Store statistics
	NodesAdded int // Number of nodes interned
	Unions     int // Number of successful merges (including congruence merges)

	// Rebuild statistics
	Rebuilds         int           // Number of Rebuild calls that did work
	CongruenceMerges int           // Merges discovered by Rebuild
	RebuildTime      time.Duration // Time spent in Rebuild

	// Scheduler statistics
	Steps        int           // Number of Step calls that ran an iteration
	Searches     int           // Number of pattern searches
	Matches      int           // Number of substitutions found
	Applications int           // Number of right-hand sides instantiated
	StepTime     time.Duration // Time spent in Step
}

// Monitor collects Stats. It is safe to read from another goroutine while the
// owning engine runs.
type Monitor struct {
	mu    sync.Mutex
	stats Stats
}

// NewMonitor creates a new monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Snapshot returns a copy of the current statistics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RecordAdd records interning a new node.
func (m *Monitor) RecordAdd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.NodesAdded++
}

// RecordUnion records a successful merge.
func (m *Monitor) RecordUnion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Unions++
}

// RecordRebuild records a rebuild and the merges it discovered.
func (m *Monitor) RecordRebuild(d time.Duration, merges int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Rebuilds++
	m.stats.CongruenceMerges += merges
	m.stats.RebuildTime += d
}

// RecordSearch records one pattern search and its match count.
func (m *Monitor) RecordSearch(matches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Searches++
	m.stats.Matches += matches
}

// RecordApplications records instantiated right-hand sides.
func (m *Monitor) RecordApplications(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Applications += n
}

// RecordStep records a finished step.
func (m *Monitor) RecordStep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Steps++
	m.stats.StepTime += d
}

// String returns a formatted summary of the statistics.
func (s Stats) String() string {
	return fmt.Sprintf(
		"E-graph Statistics:\n"+
			"  Store: %d nodes added, %d unions\n"+
			"  Rebuild: %d rebuilds, %d congruence merges, %v time\n"+
			"  Scheduler: %d steps, %d searches, %d matches, %d applications, %v time",
		s.NodesAdded, s.Unions,
		s.Rebuilds, s.CongruenceMerges, s.RebuildTime,
		s.Steps, s.Searches, s.Matches, s.Applications, s.StepTime,
	)
}
