package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"

	"gridsync/api/internal/export"
	"gridsync/api/internal/model"
	"gridsync/api/internal/pad"
	"gridsync/api/internal/rowload"
	"gridsync/api/internal/search"
	"gridsync/api/internal/store"
	"gridsync/api/internal/util"
)

const defaultRowHeight = 36

type RowInput struct {
	BlockID string            `json:"blockId"`
	Height  int32             `json:"height"`
	Cells   map[string]string `json:"cells"`
}

// RowUpdate is a sparse patch of one row. Nil fields are left as they are.
type RowUpdate struct {
	RowID      string            `json:"rowId"`
	Height     *int32            `json:"height"`
	Visibility *bool             `json:"visibility"`
	Cells      map[string]string `json:"cells"`
}

type RowResult struct {
	Row       rowload.Row `json:"row"`
	Mutations []Mutation  `json:"mutations"`
}

type BatchResult struct {
	Mutations []Mutation `json:"mutations"`
	Missing   []string   `json:"missing"`
}

type RowsView struct {
	Rows    []rowload.Row `json:"rows"`
	Missing []string      `json:"missing"`
}

// readBlock locks blockID and runs f on its pad.
func (s *Service) readBlock(ctx context.Context, blockID string, f func(*pad.BlockPad)) error {
	unlock := s.objects.lock(blockID)
	defer unlock()
	e, err := s.blockEntry(ctx, blockID)
	if err != nil {
		return err
	}
	f(e.pad)
	return nil
}

func cellsFor(fields []model.Field, cells map[string]string) (map[string]model.CellMeta, error) {
	out := make(map[string]model.CellMeta, len(cells))
	for fieldID, data := range cells {
		if !slices.ContainsFunc(fields, func(f model.Field) bool { return f.ID == fieldID }) {
			return nil, validationError(fmt.Sprintf("unknown field %s", fieldID))
		}
		out[fieldID] = model.CellMeta{FieldID: fieldID, Data: data}
	}
	return out, nil
}

// targetBlock resolves the block a new row goes to: the requested one, which
// must belong to the grid, or the grid's newest block.
func (s *Service) targetBlock(ctx context.Context, gridID, requested string) (string, error) {
	blocks, err := s.store.ListBlocks(ctx, gridID)
	if err != nil {
		return "", err
	}
	if requested == "" {
		if len(blocks) == 0 {
			return "", domainError(http.StatusConflict, "NO_BLOCK", "Grid has no block", nil)
		}
		return blocks[len(blocks)-1].BlockID, nil
	}
	if !slices.ContainsFunc(blocks, func(b store.Block) bool { return b.BlockID == requested }) {
		return "", notFound("block", requested)
	}
	return requested, nil
}

// CreateRow writes the row into its block, then appends it to the grid
// index. If the grid edit fails the row is deleted from the block again.
func (s *Service) CreateRow(ctx context.Context, gridID, author string, input RowInput) (RowResult, error) {
	fields, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		return RowResult{}, err
	}
	cells, err := cellsFor(fields, input.Cells)
	if err != nil {
		return RowResult{}, err
	}
	height := input.Height
	if height <= 0 {
		height = defaultRowHeight
	}

	var out RowResult
	err = s.withGrid(ctx, gridID, func() error {
		if _, err := s.gridEntry(ctx, gridID); err != nil {
			return err
		}
		blockID, err := s.targetBlock(ctx, gridID, input.BlockID)
		if err != nil {
			return err
		}
		meta := model.RowMeta{
			ID:            util.NewID("row"),
			BlockID:       blockID,
			CellByFieldID: cells,
			Height:        height,
			Visibility:    true,
		}
		bm, err := s.editBlock(ctx, gridID, blockID, author, func(p *pad.BlockPad) (pad.Result, error) {
			return p.AddRow(meta)
		})
		if err != nil {
			return err
		}
		gm, err := s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.CreateRow(meta)
		})
		if err != nil {
			if _, undoErr := s.editBlock(ctx, gridID, blockID, author, func(p *pad.BlockPad) (pad.Result, error) {
				return p.DeleteRows([]string{meta.ID})
			}); undoErr != nil {
				log.Printf("app: undo row %s in block %s: %v", meta.ID, blockID, undoErr)
			}
			return err
		}
		rows, err := s.loader.MakeRows(ctx, fields, []model.RowMeta{meta})
		if err != nil {
			return err
		}
		out = RowResult{Row: rows[0], Mutations: []Mutation{bm, gm}}
		return nil
	})
	if err != nil {
		return RowResult{}, err
	}
	s.indexRows(gridID, []rowload.Row{out.Row})
	return out, nil
}

func (s *Service) UpdateRow(ctx context.Context, gridID, author string, input RowUpdate) (RowResult, error) {
	fields, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		return RowResult{}, err
	}
	cells, err := cellsFor(fields, input.Cells)
	if err != nil {
		return RowResult{}, err
	}
	changeset := model.RowMetaChangeset{
		RowID:      input.RowID,
		Height:     input.Height,
		Visibility: input.Visibility,
	}
	if len(cells) > 0 {
		changeset.CellByFieldID = cells
	}

	var (
		out  RowResult
		meta model.RowMeta
	)
	err = s.withGrid(ctx, gridID, func() error {
		e, err := s.gridEntry(ctx, gridID)
		if err != nil {
			return err
		}
		blockID, ok := e.pad.BlockOf(input.RowID)
		if !ok {
			return notFound("row", input.RowID)
		}
		m, err := s.editBlock(ctx, gridID, blockID, author, func(p *pad.BlockPad) (pad.Result, error) {
			return p.UpdateRow(changeset)
		})
		if err != nil {
			return err
		}
		if len(m.Missing) > 0 {
			return notFound("row", input.RowID)
		}
		out.Mutations = []Mutation{m}
		return s.readBlock(ctx, blockID, func(p *pad.BlockPad) {
			meta, _ = p.GetRow(input.RowID)
		})
	})
	if err != nil {
		return RowResult{}, err
	}
	rows, err := s.loader.MakeRows(ctx, fields, []model.RowMeta{meta})
	if err != nil {
		return RowResult{}, err
	}
	out.Row = rows[0]
	s.indexRows(gridID, rows)
	return out, nil
}

// DeleteRows removes rows from the grid index and from their blocks. Ids the
// grid does not know are reported, not treated as errors.
func (s *Service) DeleteRows(ctx context.Context, gridID, author string, rowIDs []string) (BatchResult, error) {
	out := BatchResult{Mutations: []Mutation{}, Missing: []string{}}
	err := s.withGrid(ctx, gridID, func() error {
		e, err := s.gridEntry(ctx, gridID)
		if err != nil {
			return err
		}
		var orders []model.RowOrder
		for _, id := range rowIDs {
			if blockID, ok := e.pad.BlockOf(id); ok {
				orders = append(orders, model.RowOrder{RowID: id, BlockID: blockID})
			}
		}
		gm, err := s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.DeleteRows(rowIDs)
		})
		if err != nil {
			return err
		}
		out.Mutations = append(out.Mutations, gm)
		out.Missing = append(out.Missing, gm.Missing...)
		for _, group := range rowload.RowIDsPerBlock(orders) {
			bm, err := s.editBlock(ctx, gridID, group.BlockID, author, func(p *pad.BlockPad) (pad.Result, error) {
				return p.DeleteRows(group.RowIDs)
			})
			if err != nil {
				return err
			}
			out.Mutations = append(out.Mutations, bm)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.search.DeleteRows(gridID, rowIDs)
	return out, nil
}

// MoveRow changes a row's position in the grid index.
func (s *Service) MoveRow(ctx context.Context, gridID, rowID string, toIndex int, author string) (Mutation, error) {
	var m Mutation
	err := s.withGrid(ctx, gridID, func() error {
		var err error
		m, err = s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.MoveRow(rowID, toIndex)
		})
		if err != nil {
			return err
		}
		if len(m.Missing) > 0 {
			return notFound("row", rowID)
		}
		return nil
	})
	return m, err
}

// MoveRowToBlock deletes a row from its block, adds it to toBlockID and
// points the grid index at the new block. A failed add puts the row back.
func (s *Service) MoveRowToBlock(ctx context.Context, gridID, rowID, toBlockID, author string) (RowResult, error) {
	var (
		out  RowResult
		meta model.RowMeta
	)
	err := s.withGrid(ctx, gridID, func() error {
		e, err := s.gridEntry(ctx, gridID)
		if err != nil {
			return err
		}
		fromBlockID, ok := e.pad.BlockOf(rowID)
		if !ok {
			return notFound("row", rowID)
		}
		if _, err := s.targetBlock(ctx, gridID, toBlockID); err != nil {
			return err
		}
		var found bool
		if err := s.readBlock(ctx, fromBlockID, func(p *pad.BlockPad) {
			meta, found = p.GetRow(rowID)
		}); err != nil {
			return err
		}
		if !found {
			return notFound("row", rowID)
		}
		if fromBlockID == toBlockID {
			out.Mutations = []Mutation{}
			return nil
		}

		src, err := s.editBlock(ctx, gridID, fromBlockID, author, func(p *pad.BlockPad) (pad.Result, error) {
			return p.DeleteRows([]string{rowID})
		})
		if err != nil {
			return err
		}
		moved := meta
		moved.BlockID = toBlockID
		dst, err := s.editBlock(ctx, gridID, toBlockID, author, func(p *pad.BlockPad) (pad.Result, error) {
			return p.AddRow(moved)
		})
		if err != nil {
			if _, undoErr := s.editBlock(ctx, gridID, fromBlockID, author, func(p *pad.BlockPad) (pad.Result, error) {
				return p.AddRow(meta)
			}); undoErr != nil {
				log.Printf("app: restore row %s to block %s: %v", rowID, fromBlockID, undoErr)
			}
			return err
		}
		gm, err := s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.ReassignRow(rowID, toBlockID)
		})
		if err != nil {
			return err
		}
		meta = moved
		out.Mutations = []Mutation{src, dst, gm}
		return nil
	})
	if err != nil {
		return RowResult{}, err
	}
	fields, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		return RowResult{}, err
	}
	rows, err := s.loader.MakeRows(ctx, fields, []model.RowMeta{meta})
	if err != nil {
		return RowResult{}, err
	}
	out.Row = rows[0]
	s.indexRows(gridID, rows)
	return out, nil
}

// rowMetas fetches rows in the order of rowIDs. The caller holds the grid
// lock.
func (s *Service) rowMetas(ctx context.Context, gp *pad.GridPad, rowIDs []string) ([]model.RowMeta, []string, error) {
	var (
		orders  []model.RowOrder
		missing []string
	)
	for _, id := range rowIDs {
		blockID, ok := gp.BlockOf(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		orders = append(orders, model.RowOrder{RowID: id, BlockID: blockID})
	}

	byID := make(map[string]model.RowMeta, len(orders))
	for _, group := range rowload.RowIDsPerBlock(orders) {
		err := s.readBlock(ctx, group.BlockID, func(p *pad.BlockPad) {
			rows, miss := p.GetRows(group.RowIDs)
			for _, row := range rows {
				byID[row.ID] = row
			}
			missing = append(missing, miss...)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	metas := make([]model.RowMeta, 0, len(orders))
	for _, order := range orders {
		if meta, ok := byID[order.RowID]; ok {
			metas = append(metas, meta)
		}
	}
	return metas, missing, nil
}

// GetRows materializes the requested rows in request order.
func (s *Service) GetRows(ctx context.Context, gridID string, rowIDs []string) (RowsView, error) {
	return s.materialize(ctx, gridID, func(gp *pad.GridPad) []string { return rowIDs })
}

// ListRows materializes every row of the grid in grid order.
func (s *Service) ListRows(ctx context.Context, gridID string) (RowsView, error) {
	return s.materialize(ctx, gridID, func(gp *pad.GridPad) []string {
		orders := gp.RowOrders()
		ids := make([]string, 0, len(orders))
		for _, order := range orders {
			ids = append(ids, order.RowID)
		}
		return ids
	})
}

func (s *Service) materialize(ctx context.Context, gridID string, pick func(*pad.GridPad) []string) (RowsView, error) {
	unlock := s.objects.lock(gridID)
	e, err := s.gridEntry(ctx, gridID)
	if err != nil {
		unlock()
		return RowsView{}, err
	}
	metas, missing, err := s.rowMetas(ctx, e.pad, pick(e.pad))
	unlock()
	if err != nil {
		return RowsView{}, err
	}

	fields, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		return RowsView{}, err
	}
	rows, err := s.loader.MakeRows(ctx, fields, metas)
	if err != nil {
		return RowsView{}, err
	}
	if missing == nil {
		missing = []string{}
	}
	return RowsView{Rows: rows, Missing: missing}, nil
}

func (s *Service) indexRows(gridID string, rows []rowload.Row) {
	records := make([]search.RowRecord, 0, len(rows))
	for _, row := range rows {
		cells := make(map[string]string, len(row.CellByFieldID))
		for fieldID, cell := range row.CellByFieldID {
			cells[fieldID] = cell.Content
		}
		records = append(records, search.NewRowRecord(gridID, row.BlockID, row.ID, cells))
	}
	s.search.IndexRows(records)
}

// reindexBlock refreshes the search records of every row in a block.
func (s *Service) reindexBlock(ctx context.Context, gridID, blockID string) {
	var metas []model.RowMeta
	if err := s.readBlock(ctx, blockID, func(p *pad.BlockPad) { metas = p.AllRows() }); err != nil {
		log.Printf("app: reindex block %s: %v", blockID, err)
		return
	}
	fields, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		log.Printf("app: reindex block %s: %v", blockID, err)
		return
	}
	rows, err := s.loader.MakeRows(ctx, fields, metas)
	if err != nil {
		log.Printf("app: reindex block %s: %v", blockID, err)
		return
	}
	s.indexRows(gridID, rows)
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// ExportTable materializes the visible fields and rows of a grid for the
// export renderers.
func (s *Service) ExportTable(ctx context.Context, gridID string) (export.Table, error) {
	meta, err := s.store.GetGrid(ctx, gridID)
	if errors.Is(err, store.ErrNotFound) {
		return export.Table{}, notFound("grid", gridID)
	}
	if err != nil {
		return export.Table{}, err
	}

	unlock := s.objects.lock(gridID)
	e, err := s.gridEntry(ctx, gridID)
	if err != nil {
		unlock()
		return export.Table{}, err
	}
	grid := e.pad.GridData()
	var visible []string
	for _, order := range grid.RowOrders {
		if order.Visibility {
			visible = append(visible, order.RowID)
		}
	}
	metas, _, err := s.rowMetas(ctx, e.pad, visible)
	unlock()
	if err != nil {
		return export.Table{}, err
	}

	fields, err := s.orderedFields(ctx, gridID, grid.FieldOrders)
	if err != nil {
		return export.Table{}, err
	}
	rows, err := s.loader.MakeRows(ctx, fields, metas)
	if err != nil {
		return export.Table{}, err
	}

	table := export.Table{GridID: gridID, Title: meta.Name}
	var columns []model.Field
	for _, f := range fields {
		if f.Visibility {
			columns = append(columns, f)
			table.Columns = append(table.Columns, export.Column{ID: f.ID, Name: f.Name, Type: string(f.FieldType)})
		}
	}
	for i, row := range rows {
		if !metas[i].Visibility {
			continue
		}
		cells := make([]string, len(columns))
		for j, f := range columns {
			cells[j] = row.CellByFieldID[f.ID].Content
		}
		table.Rows = append(table.Rows, export.TableRow{ID: row.ID, Cells: cells})
	}
	return table, nil
}

func (s *Service) Export(ctx context.Context, gridID string, format export.Format, author string) (*export.Result, error) {
	res, err := s.exports.Export(ctx, export.Request{GridID: gridID, Format: format, ExportedBy: author})
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, validationError(err.Error())
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	}
	return res, err
}
