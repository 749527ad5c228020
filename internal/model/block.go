package model

import (
	"maps"
	"slices"
)

type CellMeta struct {
	FieldID string `json:"field_id"`
	Data    string `json:"data"`
}

// RowMeta is the stored form of a row: raw cell payloads keyed by field id.
type RowMeta struct {
	ID            string              `json:"id"`
	BlockID       string              `json:"block_id"`
	CellByFieldID map[string]CellMeta `json:"cell_by_field_id"`
	Height        int32               `json:"height"`
	Visibility    bool                `json:"visibility"`
}

func (r RowMeta) MarshalJSON() ([]byte, error) {
	type plain RowMeta
	if r.CellByFieldID == nil {
		r.CellByFieldID = map[string]CellMeta{}
	}
	return marshalCanonical(plain(r))
}

func (r *RowMeta) Clone() *RowMeta {
	cloned := *r
	cloned.CellByFieldID = maps.Clone(r.CellByFieldID)
	if cloned.CellByFieldID == nil {
		cloned.CellByFieldID = map[string]CellMeta{}
	}
	return &cloned
}

// RowMetaChangeset is a sparse patch. Nil fields leave the row untouched.
type RowMetaChangeset struct {
	RowID         string              `json:"row_id"`
	Height        *int32              `json:"height,omitempty"`
	Visibility    *bool               `json:"visibility,omitempty"`
	CellByFieldID map[string]CellMeta `json:"cell_by_field_id,omitempty"`
}

func (c RowMetaChangeset) IsEmpty() bool {
	return c.Height == nil && c.Visibility == nil && len(c.CellByFieldID) == 0
}

// Block holds the rows of one partition of a grid.
//
// Rows are shared between clones of a block. Anything that edits a row must
// go through MutableRow, which detaches the row from other holders first.
type Block struct {
	BlockID string     `json:"block_id"`
	Rows    []*RowMeta `json:"rows"`
}

func NewBlock(blockID string) *Block {
	return &Block{BlockID: blockID, Rows: []*RowMeta{}}
}

func (b *Block) Clone() *Block {
	return &Block{BlockID: b.BlockID, Rows: slices.Clone(b.Rows)}
}

func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	if b.Rows == nil {
		b.Rows = []*RowMeta{}
	}
	return marshalCanonical(plain(b))
}

func (b *Block) RowIndex(rowID string) int {
	return slices.IndexFunc(b.Rows, func(row *RowMeta) bool { return row.ID == rowID })
}

// MutableRow replaces the row at index i with a private copy and returns it.
func (b *Block) MutableRow(i int) *RowMeta {
	row := b.Rows[i].Clone()
	b.Rows[i] = row
	return row
}

func (b *Block) ResourceID() string { return b.BlockID }
