// Package rowload turns stored row records into display rows using the
// grid's field schema.
package rowload

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"gridsync/api/internal/model"
)

// Cell is the display form of one stored cell.
type Cell struct {
	FieldID string `json:"field_id"`
	Content string `json:"content"`
}

// Row is a materialized row. Cells whose field is unknown or whose payload
// could not be parsed are absent.
type Row struct {
	ID            string          `json:"id"`
	BlockID       string          `json:"block_id"`
	CellByFieldID map[string]Cell `json:"cell_by_field_id"`
	Height        int32           `json:"height"`
}

// BlockRowIDs lists the rows a grid keeps in one block.
type BlockRowIDs struct {
	BlockID string
	RowIDs  []string
}

// RowIDsPerBlock groups row orders by block, blocks in first-seen order.
func RowIDsPerBlock(orders []model.RowOrder) []BlockRowIDs {
	index := map[string]int{}
	var out []BlockRowIDs
	for _, order := range orders {
		i, ok := index[order.BlockID]
		if !ok {
			i = len(out)
			index[order.BlockID] = i
			out = append(out, BlockRowIDs{BlockID: order.BlockID})
		}
		out[i].RowIDs = append(out[i].RowIDs, order.RowID)
	}
	return out
}

// Loader materializes rows with at most Limit rows in flight.
type Loader struct {
	Limit int
}

func NewLoader(limit int) *Loader {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	return &Loader{Limit: limit}
}

// MakeRows materializes metas keeping their order.
func MakeRows(ctx context.Context, fields []model.Field, metas []model.RowMeta) ([]Row, error) {
	return NewLoader(0).MakeRows(ctx, fields, metas)
}

// MakeRowByID materializes metas into a lookup by row id.
func MakeRowByID(ctx context.Context, fields []model.Field, metas []model.RowMeta) (map[string]Row, error) {
	return NewLoader(0).MakeRowByID(ctx, fields, metas)
}

func (l *Loader) MakeRows(ctx context.Context, fields []model.Field, metas []model.RowMeta) ([]Row, error) {
	fieldByID := indexFields(fields)
	rows := make([]Row, len(metas))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Limit)
	for i := range metas {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows[i] = makeRow(fieldByID, metas[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("make rows: %w", err)
	}
	return rows, nil
}

func (l *Loader) MakeRowByID(ctx context.Context, fields []model.Field, metas []model.RowMeta) (map[string]Row, error) {
	rows, err := l.MakeRows(ctx, fields, metas)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Row, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	return byID, nil
}

func indexFields(fields []model.Field) map[string]model.Field {
	byID := make(map[string]model.Field, len(fields))
	for _, field := range fields {
		byID[field.ID] = field
	}
	return byID
}

func makeRow(fieldByID map[string]model.Field, meta model.RowMeta) Row {
	row := Row{
		ID:            meta.ID,
		BlockID:       meta.BlockID,
		CellByFieldID: make(map[string]Cell, len(meta.CellByFieldID)),
		Height:        meta.Height,
	}
	for fieldID, raw := range meta.CellByFieldID {
		field, ok := fieldByID[fieldID]
		if !ok {
			log.Printf("rowload: row %s: drop cell of unknown field %s", meta.ID, fieldID)
			continue
		}
		content, err := Stringify(field, raw)
		if err != nil {
			log.Printf("rowload: row %s: %v", meta.ID, err)
			continue
		}
		row.CellByFieldID[fieldID] = Cell{FieldID: fieldID, Content: content}
	}
	return row
}
