package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process substring index over row records. It is always
// kept current and serves queries whenever Meilisearch is absent or down.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]RowRecord
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]RowRecord)}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) IndexRows(rows []RowRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.ID] = r
	}
}

func (m *Memory) DeleteRows(gridID string, rowIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rowID := range rowIDs {
		delete(m.rows, RecordID(gridID, rowID))
	}
}

// Search matches case-insensitively against the row text. Hits are ordered
// by grid then row id so paging is stable.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	var matches []RowRecord
	for _, r := range m.rows {
		if q.GridID != "" && r.GridID != q.GridID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.Text), needle) {
			continue
		}
		matches = append(matches, r)
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].GridID != matches[j].GridID {
			return matches[i].GridID < matches[j].GridID
		}
		return matches[i].RowID < matches[j].RowID
	})

	total := len(matches)
	start := min(max(q.Offset, 0), total)
	end := min(start+limitOrDefault(q.Limit), total)

	results := make([]Result, 0, end-start)
	for _, r := range matches[start:end] {
		results = append(results, Result{
			GridID:  r.GridID,
			BlockID: r.BlockID,
			RowID:   r.RowID,
			Snippet: snippet(r.Text, needle),
		})
	}
	return results, total, nil
}

func snippet(text, needle string) string {
	const radius = 40
	runes := []rune(text)
	if needle == "" {
		return string(runes[:min(len(runes), 2*radius)])
	}
	idx := strings.Index(strings.ToLower(text), needle)
	if idx < 0 {
		return string(runes[:min(len(runes), 2*radius)])
	}
	at := len([]rune(text[:idx]))
	from := max(at-radius, 0)
	to := min(at+len([]rune(needle))+radius, len(runes))
	return string(runes[from:to])
}
