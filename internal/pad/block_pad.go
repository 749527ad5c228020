package pad

import (
	"fmt"
	"log"
	"slices"

	"gridsync/api/internal/delta"
	"gridsync/api/internal/model"
	"gridsync/api/internal/revision"
)

// BlockPad manages the rows of one block.
type BlockPad struct {
	*Pad[*model.Block]
}

func NewBlockPad(blockID string) (*BlockPad, error) {
	p, err := New(model.NewBlock(blockID), decodeBlock)
	if err != nil {
		return nil, err
	}
	return &BlockPad{Pad: p}, nil
}

func BlockPadFromDelta(d delta.Delta) (*BlockPad, error) {
	p, err := FromDelta(d, decodeBlock)
	if err != nil {
		return nil, err
	}
	return &BlockPad{Pad: p}, nil
}

func BlockPadFromRevisions(revs []revision.Revision) (*BlockPad, error) {
	p, err := FromRevisions(revs, decodeBlock)
	if err != nil {
		return nil, err
	}
	return &BlockPad{Pad: p}, nil
}

func decodeBlock(text string) (*model.Block, error) {
	block := &model.Block{}
	if err := decodeJSON("block", text, block); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(block.Rows))
	for i, row := range block.Rows {
		if row == nil {
			return nil, fmt.Errorf("%w: block %s: row %d is null", ErrDecode, block.BlockID, i)
		}
		if seen[row.ID] {
			return nil, fmt.Errorf("%w: block %s: duplicate row %s", ErrDecode, block.BlockID, row.ID)
		}
		seen[row.ID] = true
	}
	return block, nil
}

func (p *BlockPad) BlockID() string { return p.doc.BlockID }

// AddRow appends row to the block.
func (p *BlockPad) AddRow(row model.RowMeta) (Result, error) {
	return p.AddRowAt(row, -1)
}

// AddRowAt inserts row at index; a negative or out of range index appends.
func (p *BlockPad) AddRowAt(row model.RowMeta, index int) (Result, error) {
	if row.BlockID == "" {
		row.BlockID = p.doc.BlockID
	}
	if row.BlockID != p.doc.BlockID {
		return Result{}, fmt.Errorf("row %s belongs to block %s, not %s", row.ID, row.BlockID, p.doc.BlockID)
	}
	return p.Modify(func(block *model.Block) (Edit, error) {
		if block.RowIndex(row.ID) >= 0 {
			return Unchanged, fmt.Errorf("%w: row %s already in block %s", ErrDuplicateID, row.ID, block.BlockID)
		}
		stored := row.Clone()
		if index < 0 || index >= len(block.Rows) {
			block.Rows = append(block.Rows, stored)
		} else {
			block.Rows = slices.Insert(block.Rows, index, stored)
		}
		return Changed, nil
	})
}

// DeleteRows drops rowIDs from the block, keeping the order of the rest.
func (p *BlockPad) DeleteRows(rowIDs []string) (Result, error) {
	result, err := p.Modify(func(block *model.Block) (Edit, error) {
		found := make(map[string]bool, len(rowIDs))
		for _, id := range rowIDs {
			found[id] = false
		}
		block.Rows = slices.DeleteFunc(block.Rows, func(row *model.RowMeta) bool {
			if _, ok := found[row.ID]; ok {
				found[row.ID] = true
				return true
			}
			return false
		})
		return editFromFound(rowIDs, found), nil
	})
	logMissing("block", p.BlockID(), result.Missing)
	return result, err
}

// UpdateRow applies the fields present in changeset and leaves the rest of
// the row as it was.
func (p *BlockPad) UpdateRow(changeset model.RowMetaChangeset) (Result, error) {
	result, err := p.Modify(func(block *model.Block) (Edit, error) {
		index := block.RowIndex(changeset.RowID)
		if index < 0 {
			return Missed(changeset.RowID), nil
		}
		if changeset.IsEmpty() {
			return Unchanged, nil
		}
		row := block.MutableRow(index)
		if changeset.Height != nil {
			row.Height = *changeset.Height
		}
		if changeset.Visibility != nil {
			row.Visibility = *changeset.Visibility
		}
		for fieldID, cell := range changeset.CellByFieldID {
			if cell.FieldID == "" {
				cell.FieldID = fieldID
			}
			row.CellByFieldID[fieldID] = cell
		}
		return Changed, nil
	})
	logMissing("block", p.BlockID(), result.Missing)
	return result, err
}

// GetRows returns the rows in the order requested. Ids the block does not
// hold are logged, skipped and returned as missing.
func (p *BlockPad) GetRows(rowIDs []string) ([]model.RowMeta, []string) {
	byID := make(map[string]*model.RowMeta, len(p.doc.Rows))
	for _, row := range p.doc.Rows {
		byID[row.ID] = row
	}
	rows := make([]model.RowMeta, 0, len(rowIDs))
	var missing []string
	for _, id := range rowIDs {
		row, ok := byID[id]
		if !ok {
			log.Printf("pad: block %s: can't find row %s", p.doc.BlockID, id)
			missing = append(missing, id)
			continue
		}
		rows = append(rows, *row.Clone())
	}
	return rows, missing
}

func (p *BlockPad) GetRow(rowID string) (model.RowMeta, bool) {
	index := p.doc.RowIndex(rowID)
	if index < 0 {
		return model.RowMeta{}, false
	}
	return *p.doc.Rows[index].Clone(), true
}

func (p *BlockPad) AllRows() []model.RowMeta {
	rows := make([]model.RowMeta, 0, len(p.doc.Rows))
	for _, row := range p.doc.Rows {
		rows = append(rows, *row.Clone())
	}
	return rows
}

func (p *BlockPad) NumberOfRows() int {
	return len(p.doc.Rows)
}
