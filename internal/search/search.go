// Package search finds rows of materialized grids by cell content.
package search

import "encoding/base64"

// Result is a single search hit returned to the caller.
type Result struct {
	GridID  string `json:"gridId"`
	BlockID string `json:"blockId"`
	RowID   string `json:"rowId"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	GridID string // empty = all grids
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a row search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RowRecord is the data we index for a row: the display content of each of
// its cells, keyed by field id.
type RowRecord struct {
	ID      string            `json:"id"`
	GridID  string            `json:"gridId"`
	BlockID string            `json:"blockId"`
	RowID   string            `json:"rowId"`
	Text    string            `json:"text"`
	Cells   map[string]string `json:"cells"`
}

// RecordID derives an index-safe document id from a grid and row id.
func RecordID(gridID, rowID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(gridID + "/" + rowID))
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
