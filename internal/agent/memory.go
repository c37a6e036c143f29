// internal/agent/memory.go
package agent

import (
	"slices"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// Memory is the append-only record of one session. Only the run loop that
// owns it writes to it.
type Memory struct {
	records     []schemas.ActionRecord
	visits      []string
	screenshots map[string]string
	snapshots   []schemas.PageSnapshot
}

func NewMemory() *Memory {
	return &Memory{screenshots: make(map[string]string)}
}

// Append adds a record. Records are never modified afterwards.
func (m *Memory) Append(r schemas.ActionRecord) {
	m.records = append(m.records, r)
}

// RecordVisit notes a newly visited page.
func (m *Memory) RecordVisit(url string) {
	m.visits = append(m.visits, url)
}

// RecordScreenshot maps a page URL to its screenshot file name.
func (m *Memory) RecordScreenshot(url, file string) {
	m.screenshots[url] = file
}

// RecordSnapshot keeps a snapshot for embedding in the report.
func (m *Memory) RecordSnapshot(s schemas.PageSnapshot) {
	m.snapshots = append(m.snapshots, s)
}

// Recent returns up to the last n records, oldest first.
func (m *Memory) Recent(n int) []schemas.ActionRecord {
	if n <= 0 || n >= len(m.records) {
		return slices.Clone(m.records)
	}
	return slices.Clone(m.records[len(m.records)-n:])
}

// Records returns a copy of the full history.
func (m *Memory) Records() []schemas.ActionRecord { return slices.Clone(m.records) }

// Visits returns the visited pages in order.
func (m *Memory) Visits() []string { return slices.Clone(m.visits) }

// Screenshots returns a copy of the url to file map.
func (m *Memory) Screenshots() map[string]string {
	out := make(map[string]string, len(m.screenshots))
	for k, v := range m.screenshots {
		out[k] = v
	}
	return out
}

// Snapshots returns the retained snapshots.
func (m *Memory) Snapshots() []schemas.PageSnapshot { return slices.Clone(m.snapshots) }

// Len is the number of recorded actions.
func (m *Memory) Len() int { return len(m.records) }
