package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gridsync/api/internal/model"
	"gridsync/api/internal/pad"
	"gridsync/api/internal/revision"
	"gridsync/api/internal/store"
	"gridsync/api/internal/util"
)

const defaultFieldWidth = 150

// GridView is a grid's registry entry, schema and row index.
type GridView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
	Fields    []model.Field    `json:"fields"`
	Blocks    []string         `json:"blocks"`
	RowOrders []model.RowOrder `json:"rowOrders"`
	Sequence  int64            `json:"sequence"`
	Checksum  string           `json:"checksum"`
}

type FieldInput struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Desc       string          `json:"desc"`
	Width      int32           `json:"width"`
	TypeOption json.RawMessage `json:"typeOption"`
}

// CreateGrid registers a grid with one empty block and writes the first
// revision of both.
func (s *Service) CreateGrid(ctx context.Context, name, author string) (GridView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return GridView{}, validationError("name is required")
	}
	gridID := util.NewID("grid")
	if err := s.store.CreateGrid(ctx, store.Grid{ID: gridID, Name: name, CreatedBy: author, CreatedAt: time.Now().UTC()}); err != nil {
		return GridView{}, fmt.Errorf("create grid: %w", err)
	}

	err := s.withGrid(ctx, gridID, func() error {
		gp, err := pad.NewGridPad(gridID)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, gridID, gp.InitialRevision(author), "{}", gp.JSON()); err != nil {
			return err
		}
		s.objects.putGrid(gridID, &entry[*pad.GridPad]{pad: gp, seq: 1})
		_, err = s.addBlock(ctx, gridID, author)
		return err
	})
	if err != nil {
		return GridView{}, err
	}

	s.ensureArchive(ctx, gridID, author)
	return s.GetGrid(ctx, gridID)
}

// addBlock starts a block log and registers the block. The caller holds the
// grid lock.
func (s *Service) addBlock(ctx context.Context, gridID, author string) (string, error) {
	blockID := util.NewID("blk")
	bp, err := pad.NewBlockPad(blockID)
	if err != nil {
		return "", err
	}
	if err := s.commit(ctx, gridID, bp.InitialRevision(author), "{}", bp.JSON()); err != nil {
		return "", err
	}
	s.objects.putBlock(blockID, &entry[*pad.BlockPad]{pad: bp, seq: 1})
	if err := s.store.AddBlock(ctx, gridID, blockID); err != nil {
		return "", fmt.Errorf("register block: %w", err)
	}
	return blockID, nil
}

// AddBlock adds an empty partition to a grid.
func (s *Service) AddBlock(ctx context.Context, gridID, author string) (string, error) {
	var blockID string
	err := s.withGrid(ctx, gridID, func() error {
		if _, err := s.gridEntry(ctx, gridID); err != nil {
			return err
		}
		var err error
		blockID, err = s.addBlock(ctx, gridID, author)
		return err
	})
	return blockID, err
}

func (s *Service) ListGrids(ctx context.Context) ([]store.Grid, error) {
	grids, err := s.store.ListGrids(ctx)
	if err != nil {
		return nil, err
	}
	if grids == nil {
		grids = []store.Grid{}
	}
	return grids, nil
}

func (s *Service) GetGrid(ctx context.Context, gridID string) (GridView, error) {
	meta, err := s.store.GetGrid(ctx, gridID)
	if errors.Is(err, store.ErrNotFound) {
		return GridView{}, notFound("grid", gridID)
	}
	if err != nil {
		return GridView{}, err
	}

	unlock := s.objects.lock(gridID)
	e, err := s.gridEntry(ctx, gridID)
	if err != nil {
		unlock()
		return GridView{}, err
	}
	grid := e.pad.GridData()
	seq, checksum := e.seq, e.pad.Checksum()
	unlock()

	fields, err := s.orderedFields(ctx, gridID, grid.FieldOrders)
	if err != nil {
		return GridView{}, err
	}
	blocks, err := s.store.ListBlocks(ctx, gridID)
	if err != nil {
		return GridView{}, err
	}
	blockIDs := make([]string, 0, len(blocks))
	for _, b := range blocks {
		blockIDs = append(blockIDs, b.BlockID)
	}

	return GridView{
		ID:        meta.ID,
		Name:      meta.Name,
		CreatedBy: meta.CreatedBy,
		CreatedAt: meta.CreatedAt,
		Fields:    fields,
		Blocks:    blockIDs,
		RowOrders: grid.RowOrders,
		Sequence:  seq,
		Checksum:  checksum,
	}, nil
}

// orderedFields returns the stored fields in grid order, with visibility
// taken from the grid. Stored fields the grid no longer orders are skipped.
func (s *Service) orderedFields(ctx context.Context, gridID string, orders []model.FieldOrder) ([]model.Field, error) {
	stored, err := s.store.ListFields(ctx, gridID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Field, len(stored))
	for _, f := range stored {
		byID[f.ID] = f
	}
	fields := make([]model.Field, 0, len(orders))
	for _, order := range orders {
		f, ok := byID[order.FieldID]
		if !ok {
			log.Printf("app: grid %s: field %s has no schema", gridID, order.FieldID)
			continue
		}
		f.Visibility = order.Visibility
		fields = append(fields, f)
	}
	return fields, nil
}

func (s *Service) CreateField(ctx context.Context, gridID, author string, input FieldInput) (model.Field, Mutation, error) {
	field, err := newField(input)
	if err != nil {
		return model.Field{}, Mutation{}, err
	}

	var m Mutation
	err = s.withGrid(ctx, gridID, func() error {
		if _, err := s.gridEntry(ctx, gridID); err != nil {
			return err
		}
		var err error
		if err = s.store.SaveField(ctx, gridID, field); err != nil {
			return fmt.Errorf("save field: %w", err)
		}
		m, err = s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.CreateField(field)
		})
		if err != nil {
			if delErr := s.store.DeleteField(ctx, gridID, field.ID); delErr != nil {
				log.Printf("app: drop schema of unordered field %s: %v", field.ID, delErr)
			}
		}
		return err
	})
	if err != nil {
		return model.Field{}, Mutation{}, err
	}
	return field, m, nil
}

func newField(input FieldInput) (model.Field, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Field{}, validationError("name is required")
	}
	fieldType := model.FieldType(strings.TrimSpace(input.Type))
	if !fieldType.Valid() {
		return model.Field{}, validationError(fmt.Sprintf("unknown field type %q", input.Type))
	}
	width := input.Width
	if width <= 0 {
		width = defaultFieldWidth
	}
	field := model.Field{
		ID:         util.NewID("fld"),
		Name:       name,
		Desc:       input.Desc,
		FieldType:  fieldType,
		Visibility: true,
		Width:      width,
	}
	if len(input.TypeOption) > 0 && string(input.TypeOption) != "null" {
		field.TypeOption = input.TypeOption
	}

	var err error
	switch fieldType {
	case model.FieldNumber:
		err = field.DecodeOption(&model.NumberOption{})
	case model.FieldDateTime:
		err = field.DecodeOption(&model.DateOption{})
	case model.FieldSingleSelect, model.FieldMultiSelect:
		err = field.DecodeOption(&model.SelectOption{})
	}
	if err != nil {
		return model.Field{}, validationError("typeOption does not match the field type")
	}
	return field, nil
}

func (s *Service) DeleteField(ctx context.Context, gridID, fieldID, author string) (Mutation, error) {
	var m Mutation
	err := s.withGrid(ctx, gridID, func() error {
		var err error
		m, err = s.editGrid(ctx, gridID, author, func(p *pad.GridPad) (pad.Result, error) {
			return p.DeleteField(fieldID)
		})
		if err != nil {
			return err
		}
		if len(m.Missing) > 0 {
			return notFound("field", fieldID)
		}
		if err := s.store.DeleteField(ctx, gridID, fieldID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete field schema: %w", err)
		}
		return nil
	})
	return m, err
}

func (s *Service) SetFieldVisibility(ctx context.Context, gridID, fieldID string, visible bool, author string) (Mutation, error) {
	return s.gridFieldEdit(ctx, gridID, fieldID, author, func(p *pad.GridPad) (pad.Result, error) {
		return p.SetFieldVisibility(fieldID, visible)
	})
}

func (s *Service) MoveField(ctx context.Context, gridID, fieldID string, toIndex int, author string) (Mutation, error) {
	return s.gridFieldEdit(ctx, gridID, fieldID, author, func(p *pad.GridPad) (pad.Result, error) {
		return p.MoveField(fieldID, toIndex)
	})
}

func (s *Service) gridFieldEdit(ctx context.Context, gridID, fieldID, author string, f func(*pad.GridPad) (pad.Result, error)) (Mutation, error) {
	var m Mutation
	err := s.withGrid(ctx, gridID, func() error {
		var err error
		m, err = s.editGrid(ctx, gridID, author, f)
		if err != nil {
			return err
		}
		if len(m.Missing) > 0 {
			return notFound("field", fieldID)
		}
		return nil
	})
	return m, err
}

// objectKind tells whether objectID names a grid or a block and returns the
// grid it belongs to.
func (s *Service) objectKind(ctx context.Context, objectID string) (gridID string, isGrid bool, err error) {
	if _, err := s.store.GetGrid(ctx, objectID); err == nil {
		return objectID, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}
	block, err := s.store.GetBlock(ctx, objectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, notFound("object", objectID)
	}
	if err != nil {
		return "", false, err
	}
	return block.GridID, false, nil
}

// Revisions lists the log of a grid or block from fromSeq on.
func (s *Service) Revisions(ctx context.Context, objectID string, fromSeq int64) ([]revision.Revision, error) {
	if _, _, err := s.objectKind(ctx, objectID); err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisions(ctx, objectID, fromSeq)
	if err != nil {
		return nil, err
	}
	if revs == nil {
		revs = []revision.Revision{}
	}
	return revs, nil
}
