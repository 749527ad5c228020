package search

import (
	"log"
	"sort"
	"strings"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-process index.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, memory: NewMemory()}
}

// Search tries Meilisearch if healthy, otherwise falls back to the
// in-process index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory index: %v", err)
	}

	results, total, _ := s.memory.Search(q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRows records rows in the in-process index and forwards them to
// Meilisearch (fire-and-forget).
func (s *Service) IndexRows(rows []RowRecord) {
	if len(rows) == 0 {
		return
	}
	s.memory.IndexRows(rows)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRows(rows); err != nil {
			log.Printf("search: index %d rows: %v", len(rows), err)
		}
	}()
}

// DeleteRows drops rows from both indexes (fire-and-forget to Meilisearch).
func (s *Service) DeleteRows(gridID string, rowIDs []string) {
	if len(rowIDs) == 0 {
		return
	}
	s.memory.DeleteRows(gridID, rowIDs)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRows(gridID, rowIDs); err != nil {
			log.Printf("search: delete rows of grid %s: %v", gridID, err)
		}
	}()
}

// NewRowRecord flattens a row's displayed cell content into an indexable
// record. Cell text is joined in field id order.
func NewRowRecord(gridID, blockID, rowID string, cells map[string]string) RowRecord {
	ids := make([]string, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if v := strings.TrimSpace(cells[id]); v != "" {
			parts = append(parts, v)
		}
	}
	return RowRecord{
		ID:      RecordID(gridID, rowID),
		GridID:  gridID,
		BlockID: blockID,
		RowID:   rowID,
		Text:    strings.Join(parts, " "),
		Cells:   cells,
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
