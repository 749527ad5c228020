package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gridsync/api/internal/delta"
	"gridsync/api/internal/model"
	"gridsync/api/internal/revision"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "gridsync.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltAppendAndListRevisions(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)

	first := revision.Initial("alice", "b1", delta.Insertion(`{"block_id":"b1","rows":[]}`))
	second := revision.New("bob", "b1", 2, delta.NewBuilder().Retain(26).Insert("x").Build(), "")
	for _, rev := range []revision.Revision{first, second} {
		if err := s.AppendRevision(ctx, rev); err != nil {
			t.Fatalf("AppendRevision(%d): %v", rev.Sequence, err)
		}
	}

	revs, err := s.ListRevisions(ctx, "b1", 0)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revs) != 2 || revs[0].Sequence != 1 || revs[1].Sequence != 2 {
		t.Fatalf("unexpected revisions: %+v", revs)
	}
	if string(revs[0].Delta) != string(first.Delta) || revs[0].Checksum != first.Checksum {
		t.Fatalf("revision 1 changed in storage: %+v", revs[0])
	}

	tail, err := s.ListRevisions(ctx, "b1", 2)
	if err != nil || len(tail) != 1 || tail[0].Author != "bob" {
		t.Fatalf("ListRevisions from 2: %+v %v", tail, err)
	}

	last, err := s.LatestSequence(ctx, "b1")
	if err != nil || last != 2 {
		t.Fatalf("LatestSequence = %d, %v", last, err)
	}
	if last, _ := s.LatestSequence(ctx, "unknown"); last != 0 {
		t.Fatalf("expected 0 for unknown object, got %d", last)
	}
}

func TestBoltRejectsOutOfOrderAppends(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	d := delta.Insertion("{}")

	tests := []struct {
		name string
		seq  int64
	}{
		{"zero", 0},
		{"gap", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.AppendRevision(ctx, revision.New("a", "obj", tc.seq, d, ""))
			if !errors.Is(err, ErrSequenceConflict) {
				t.Fatalf("expected ErrSequenceConflict, got %v", err)
			}
		})
	}

	if err := s.AppendRevision(ctx, revision.New("a", "obj", 1, d, "")); err != nil {
		t.Fatalf("AppendRevision: %v", err)
	}
	if err := s.AppendRevision(ctx, revision.New("a", "obj", 1, d, "")); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected duplicate append to conflict, got %v", err)
	}
}

func TestBoltGridRegistry(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)

	grid := Grid{ID: "g1", Name: "Tasks", CreatedBy: "alice", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	if err := s.CreateGrid(ctx, grid); err != nil {
		t.Fatalf("CreateGrid: %v", err)
	}
	if err := s.CreateGrid(ctx, grid); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	got, err := s.GetGrid(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGrid: %v", err)
	}
	if diff := cmp.Diff(grid, got); diff != "" {
		t.Fatalf("grid mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.GetGrid(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	grids, err := s.ListGrids(ctx)
	if err != nil || len(grids) != 1 {
		t.Fatalf("ListGrids: %v %v", grids, err)
	}

	for _, id := range []string{"b2", "b1"} {
		if err := s.AddBlock(ctx, "g1", id); err != nil {
			t.Fatalf("AddBlock(%s): %v", id, err)
		}
	}
	if err := s.AddBlock(ctx, "g1", "b1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected duplicate block error, got %v", err)
	}
	if err := s.AddBlock(ctx, "nope", "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing grid error, got %v", err)
	}
	blocks, err := s.ListBlocks(ctx, "g1")
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 2 || blocks[0].BlockID != "b2" || blocks[1].BlockID != "b1" {
		t.Fatalf("blocks should keep creation order: %+v", blocks)
	}
	block, err := s.GetBlock(ctx, "b1")
	if err != nil || block.GridID != "g1" {
		t.Fatalf("GetBlock: %+v %v", block, err)
	}
	if _, err := s.GetBlock(ctx, "b9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoltFields(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t)
	if err := s.CreateGrid(ctx, Grid{ID: "g1"}); err != nil {
		t.Fatalf("CreateGrid: %v", err)
	}

	fields := []model.Field{
		{ID: "f1", Name: "Name", FieldType: model.FieldRichText, Visibility: true},
		{ID: "f2", Name: "Done", FieldType: model.FieldCheckbox, Visibility: true},
	}
	for _, field := range fields {
		if err := s.SaveField(ctx, "g1", field); err != nil {
			t.Fatalf("SaveField(%s): %v", field.ID, err)
		}
	}
	renamed := fields[0]
	renamed.Name = "Title"
	if err := s.SaveField(ctx, "g1", renamed); err != nil {
		t.Fatalf("SaveField(rename): %v", err)
	}

	got, err := s.ListFields(ctx, "g1")
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	want := []model.Field{renamed, fields[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteField(ctx, "g1", "f1"); err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	if err := s.DeleteField(ctx, "g1", "f1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, _ := s.ListFields(ctx, "g1"); len(got) != 1 || got[0].ID != "f2" {
		t.Fatalf("unexpected fields after delete: %+v", got)
	}
}

func TestBoltRejectsCancelledContext(t *testing.T) {
	s := openTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
