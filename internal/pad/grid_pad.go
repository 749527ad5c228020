package pad

import (
	"fmt"
	"slices"

	"gridsync/api/internal/delta"
	"gridsync/api/internal/model"
	"gridsync/api/internal/revision"
)

// GridPad manages the field and row ordering of one grid.
type GridPad struct {
	*Pad[*model.Grid]
}

func NewGridPad(gridID string) (*GridPad, error) {
	p, err := New(model.NewGrid(gridID), decodeGrid)
	if err != nil {
		return nil, err
	}
	return &GridPad{Pad: p}, nil
}

func GridPadFromDelta(d delta.Delta) (*GridPad, error) {
	p, err := FromDelta(d, decodeGrid)
	if err != nil {
		return nil, err
	}
	return &GridPad{Pad: p}, nil
}

func GridPadFromRevisions(revs []revision.Revision) (*GridPad, error) {
	p, err := FromRevisions(revs, decodeGrid)
	if err != nil {
		return nil, err
	}
	return &GridPad{Pad: p}, nil
}

func decodeGrid(text string) (*model.Grid, error) {
	grid := &model.Grid{}
	if err := decodeJSON("grid", text, grid); err != nil {
		return nil, err
	}
	fields := make(map[string]bool, len(grid.FieldOrders))
	for _, order := range grid.FieldOrders {
		if fields[order.FieldID] {
			return nil, fmt.Errorf("%w: grid %s: duplicate field order %s", ErrDecode, grid.ID, order.FieldID)
		}
		fields[order.FieldID] = true
	}
	rows := make(map[string]bool, len(grid.RowOrders))
	for _, order := range grid.RowOrders {
		if rows[order.RowID] {
			return nil, fmt.Errorf("%w: grid %s: duplicate row order %s", ErrDecode, grid.ID, order.RowID)
		}
		rows[order.RowID] = true
	}
	return grid, nil
}

// CreateRow appends a visible row order for row.
func (p *GridPad) CreateRow(row model.RowMeta) (Result, error) {
	return p.Modify(func(grid *model.Grid) (Edit, error) {
		if grid.RowIndex(row.ID) >= 0 {
			return Unchanged, fmt.Errorf("%w: row %s already in grid %s", ErrDuplicateID, row.ID, grid.ID)
		}
		grid.RowOrders = append(grid.RowOrders, model.RowOrder{
			RowID:      row.ID,
			BlockID:    row.BlockID,
			Visibility: true,
		})
		return Changed, nil
	})
}

// CreateField appends a visible field order for field.
func (p *GridPad) CreateField(field model.Field) (Result, error) {
	return p.Modify(func(grid *model.Grid) (Edit, error) {
		if grid.FieldIndex(field.ID) >= 0 {
			return Unchanged, fmt.Errorf("%w: field %s already in grid %s", ErrDuplicateID, field.ID, grid.ID)
		}
		grid.FieldOrders = append(grid.FieldOrders, model.FieldOrder{
			FieldID:    field.ID,
			Visibility: true,
		})
		return Changed, nil
	})
}

// DeleteRows drops the row orders of rowIDs, keeping the order of the rest.
func (p *GridPad) DeleteRows(rowIDs []string) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		found := make(map[string]bool, len(rowIDs))
		for _, id := range rowIDs {
			found[id] = false
		}
		grid.RowOrders = slices.DeleteFunc(grid.RowOrders, func(order model.RowOrder) bool {
			if _, ok := found[order.RowID]; ok {
				found[order.RowID] = true
				return true
			}
			return false
		})
		return editFromFound(rowIDs, found), nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

func (p *GridPad) DeleteField(fieldID string) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		index := grid.FieldIndex(fieldID)
		if index < 0 {
			return Missed(fieldID), nil
		}
		grid.FieldOrders = slices.Delete(grid.FieldOrders, index, index+1)
		return Changed, nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

func (p *GridPad) SetFieldVisibility(fieldID string, visible bool) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		index := grid.FieldIndex(fieldID)
		if index < 0 {
			return Missed(fieldID), nil
		}
		grid.FieldOrders[index].Visibility = visible
		return Changed, nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

// MoveField moves a field order to toIndex, clamped to the valid range.
func (p *GridPad) MoveField(fieldID string, toIndex int) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		index := grid.FieldIndex(fieldID)
		if index < 0 {
			return Missed(fieldID), nil
		}
		grid.FieldOrders = move(grid.FieldOrders, index, toIndex)
		return Changed, nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

// MoveRow moves a row order to toIndex, clamped to the valid range.
func (p *GridPad) MoveRow(rowID string, toIndex int) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		index := grid.RowIndex(rowID)
		if index < 0 {
			return Missed(rowID), nil
		}
		grid.RowOrders = move(grid.RowOrders, index, toIndex)
		return Changed, nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

// ReassignRow records that a row now lives in another block.
func (p *GridPad) ReassignRow(rowID, blockID string) (Result, error) {
	result, err := p.Modify(func(grid *model.Grid) (Edit, error) {
		index := grid.RowIndex(rowID)
		if index < 0 {
			return Missed(rowID), nil
		}
		grid.RowOrders[index].BlockID = blockID
		return Changed, nil
	})
	logMissing("grid", p.ResourceID(), result.Missing)
	return result, err
}

func (p *GridPad) FieldOrders() []model.FieldOrder {
	return slices.Clone(p.doc.FieldOrders)
}

func (p *GridPad) RowOrders() []model.RowOrder {
	return slices.Clone(p.doc.RowOrders)
}

// BlockOf returns the block holding rowID.
func (p *GridPad) BlockOf(rowID string) (string, bool) {
	index := p.doc.RowIndex(rowID)
	if index < 0 {
		return "", false
	}
	return p.doc.RowOrders[index].BlockID, true
}

func (p *GridPad) GridData() model.Grid {
	return *p.doc.Clone()
}

func move[T any](items []T, from, to int) []T {
	to = max(0, min(to, len(items)-1))
	if from == to {
		return items
	}
	item := items[from]
	items = slices.Delete(items, from, from+1)
	return slices.Insert(items, to, item)
}

func editFromFound(ids []string, found map[string]bool) Edit {
	var edit Edit
	for _, id := range ids {
		if found[id] {
			edit.Changed = true
		} else {
			edit.Missing = append(edit.Missing, id)
		}
	}
	return edit
}
