package archive

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gridsync/api/internal/model"
)

func snapshot(rows ...string) Snapshot {
	grid := model.NewGrid("g1")
	block := model.NewBlock("b1")
	for _, id := range rows {
		grid.RowOrders = append(grid.RowOrders, model.RowOrder{RowID: id, BlockID: "b1", Visibility: true})
		block.Rows = append(block.Rows, &model.RowMeta{ID: id, BlockID: "b1", CellByFieldID: map[string]model.CellMeta{}})
	}
	return Snapshot{
		GridID:    "g1",
		Grid:      *grid,
		Fields:    []model.Field{{ID: "f1", Name: "Name", FieldType: model.FieldRichText}},
		Blocks:    []model.Block{*block},
		Sequences: map[string]int64{"g1": int64(len(rows) + 1), "b1": int64(len(rows) + 1)},
		Checksums: map[string]string{"g1": "x", "b1": "y"},
	}
}

func TestArchiveLifecycle(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	if err := svc.EnsureRepo("g1", snapshot(), "Avery"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "g1", snapshotFile)); err != nil {
		t.Fatalf("snapshot missing from worktree: %v", err)
	}
	if err := svc.EnsureRepo("g1", snapshot("ignored"), "Avery"); err != nil {
		t.Fatalf("second EnsureRepo() error = %v", err)
	}

	want := snapshot("r1", "r2")
	commit, err := svc.CommitSnapshot("g1", want, "Avery", "Add two rows")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if len(commit.Hash) != 7 || commit.Author != "Avery" {
		t.Fatalf("unexpected commit: %+v", commit)
	}

	if _, err := svc.CommitSnapshot("g1", want, "Avery", "Again"); !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}

	history, err := svc.History("g1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != commit.Hash {
		t.Fatalf("unexpected history: %+v", history)
	}
	if limited, _ := svc.History("g1", 1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d entries", len(limited))
	}

	got, info, err := svc.GetSnapshot("g1", commit.Hash)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if info.Hash != commit.Hash {
		t.Fatalf("unexpected commit info %+v", info)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	first := history[1].Hash
	if err := svc.Tag("g1", first, "v1", "Avery"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if err := svc.Tag("g1", first, "v1", "Avery"); err != nil {
		t.Fatalf("re-tag should be a no-op, got %v", err)
	}
	tagged, _, err := svc.GetSnapshot("g1", "v1")
	if err != nil {
		t.Fatalf("GetSnapshot(tag) error = %v", err)
	}
	if len(tagged.Grid.RowOrders) != 0 {
		t.Fatalf("tag should point at the empty grid, got %+v", tagged.Grid)
	}
}

func TestArchiveMissingGrid(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.CommitSnapshot("nope", snapshot(), "a", "m"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.EnsureRepo("g1", snapshot(), "a"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	if _, _, err := svc.GetSnapshot("g1", "deadbee"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestArchiveSerializesCommitsPerGrid(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("g1", snapshot(), "a"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows := make([]string, i+1)
			for j := range rows {
				rows[j] = string(rune('a' + j))
			}
			if _, err := svc.CommitSnapshot("g1", snapshot(rows...), "a", "rows"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	history, err := svc.History("g1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 commits, got %d", len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"a_b-c":       "a.b.c",
		"!!!":         "user",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
