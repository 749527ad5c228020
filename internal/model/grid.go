// Package model holds the aggregates kept by revisioned pads and the field
// schema used to materialize rows.
//
// Field order of every struct here is part of the canonical JSON form that
// deltas are computed over; reordering a field changes the wire format.
package model

import "slices"

type FieldOrder struct {
	FieldID    string `json:"field_id"`
	Visibility bool   `json:"visibility"`
}

type RowOrder struct {
	RowID      string `json:"row_id"`
	BlockID    string `json:"block_id"`
	Visibility bool   `json:"visibility"`
}

// Grid is the index of a grid: the ordering and visibility of its fields and
// rows. Row payloads live in blocks.
type Grid struct {
	ID          string       `json:"id"`
	FieldOrders []FieldOrder `json:"field_orders"`
	RowOrders   []RowOrder   `json:"row_orders"`
}

func NewGrid(id string) *Grid {
	return &Grid{ID: id, FieldOrders: []FieldOrder{}, RowOrders: []RowOrder{}}
}

func (g *Grid) Clone() *Grid {
	return &Grid{
		ID:          g.ID,
		FieldOrders: slices.Clone(g.FieldOrders),
		RowOrders:   slices.Clone(g.RowOrders),
	}
}

func (g Grid) MarshalJSON() ([]byte, error) {
	type plain Grid
	if g.FieldOrders == nil {
		g.FieldOrders = []FieldOrder{}
	}
	if g.RowOrders == nil {
		g.RowOrders = []RowOrder{}
	}
	return marshalCanonical(plain(g))
}

func (g *Grid) FieldIndex(fieldID string) int {
	return slices.IndexFunc(g.FieldOrders, func(order FieldOrder) bool { return order.FieldID == fieldID })
}

func (g *Grid) RowIndex(rowID string) int {
	return slices.IndexFunc(g.RowOrders, func(order RowOrder) bool { return order.RowID == rowID })
}

func (g *Grid) ResourceID() string { return g.ID }
