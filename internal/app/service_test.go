package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gridsync/api/internal/archive"
	"gridsync/api/internal/config"
	"gridsync/api/internal/model"
	"gridsync/api/internal/pad"
	"gridsync/api/internal/relay"
	"gridsync/api/internal/revision"
	"gridsync/api/internal/search"
	"gridsync/api/internal/store"
)

// flakyStore fails AppendRevision while failAppend is set.
type flakyStore struct {
	*store.BoltStore
	mu         sync.Mutex
	failAppend bool
}

func (f *flakyStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppend = fail
}

func (f *flakyStore) AppendRevision(ctx context.Context, rev revision.Revision) error {
	f.mu.Lock()
	fail := f.failAppend
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.BoltStore.AppendRevision(ctx, rev)
}

func openTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	db, err := store.OpenBolt(filepath.Join(t.TempDir(), "gridsync.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:         "test-secret",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        time.Hour,
		Admins:            []string{"root"},
		LoaderParallelism: 2,
	}
}

func newTestService(t *testing.T, cfg config.Config, ds dataStore) *Service {
	t.Helper()
	if ds == nil {
		ds = openTestStore(t)
	}
	return New(cfg, Deps{
		Store:   ds,
		Relay:   relay.NewLocal(),
		Archive: archive.New(t.TempDir()),
		Search:  search.NewService(nil),
	})
}

func createGridWithField(t *testing.T, svc *Service) (GridView, model.Field) {
	t.Helper()
	ctx := context.Background()
	grid, err := svc.CreateGrid(ctx, "Budget", "ada")
	if err != nil {
		t.Fatalf("create grid: %v", err)
	}
	field, _, err := svc.CreateField(ctx, grid.ID, "ada", FieldInput{Name: "Item", Type: "rich_text"})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	return grid, field
}

func requireDomainCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestCreateGridStartsWithOneBlock(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)
	grid, err := svc.CreateGrid(context.Background(), "  Budget  ", "ada")
	if err != nil {
		t.Fatalf("create grid: %v", err)
	}
	if grid.Name != "Budget" {
		t.Fatalf("expected trimmed name, got %q", grid.Name)
	}
	if len(grid.Blocks) != 1 {
		t.Fatalf("expected one block, got %v", grid.Blocks)
	}
	if grid.Sequence != 1 || grid.Checksum == "" {
		t.Fatalf("expected sequence 1 with checksum, got %d %q", grid.Sequence, grid.Checksum)
	}

	if _, err := svc.CreateGrid(context.Background(), " ", "ada"); err == nil {
		t.Fatal("expected blank name to fail")
	} else {
		requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	}
}

func TestRowLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, field := createGridWithField(t, svc)

	first, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}
	if len(first.Mutations) != 2 {
		t.Fatalf("expected block and grid mutations, got %d", len(first.Mutations))
	}
	if first.Row.Height != defaultRowHeight {
		t.Fatalf("expected default height, got %d", first.Row.Height)
	}
	second, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Food"}})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}

	height := int32(60)
	updated, err := svc.UpdateRow(ctx, grid.ID, "ada", RowUpdate{RowID: first.Row.ID, Height: &height, Cells: map[string]string{field.ID: "Mortgage"}})
	if err != nil {
		t.Fatalf("update row: %v", err)
	}
	if updated.Row.Height != 60 || updated.Row.CellByFieldID[field.ID].Content != "Mortgage" {
		t.Fatalf("unexpected updated row: %+v", updated.Row)
	}

	if _, err := svc.MoveRow(ctx, grid.ID, second.Row.ID, 0, "ada"); err != nil {
		t.Fatalf("move row: %v", err)
	}
	listed, err := svc.ListRows(ctx, grid.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(listed.Rows) != 2 || listed.Rows[0].ID != second.Row.ID {
		t.Fatalf("expected moved row first, got %+v", listed.Rows)
	}

	got, err := svc.GetRows(ctx, grid.ID, []string{first.Row.ID, "row_missing"})
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(got.Rows) != 1 || len(got.Missing) != 1 || got.Missing[0] != "row_missing" {
		t.Fatalf("expected one row and one missing id, got %+v", got)
	}

	deleted, err := svc.DeleteRows(ctx, grid.ID, "ada", []string{first.Row.ID, "row_missing"})
	if err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	if len(deleted.Missing) != 1 || deleted.Missing[0] != "row_missing" {
		t.Fatalf("expected missing id reported, got %v", deleted.Missing)
	}
	listed, err = svc.ListRows(ctx, grid.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(listed.Rows) != 1 || listed.Rows[0].ID != second.Row.ID {
		t.Fatalf("expected only the second row, got %+v", listed.Rows)
	}
}

func TestRowErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, _ := createGridWithField(t, svc)

	_, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{"fld_unknown": "x"}})
	requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.CreateRow(ctx, grid.ID, "ada", RowInput{BlockID: "blk_other"})
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.UpdateRow(ctx, grid.ID, "ada", RowUpdate{RowID: "row_missing"})
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.MoveRow(ctx, grid.ID, "row_missing", 0, "ada")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.ListRows(ctx, "grid_missing")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestFieldEdits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, item := createGridWithField(t, svc)

	amount, _, err := svc.CreateField(ctx, grid.ID, "ada", FieldInput{Name: "Amount", Type: "number", TypeOption: []byte(`{"format":"usd","scale":2}`)})
	if err != nil {
		t.Fatalf("create number field: %v", err)
	}
	if amount.Width != defaultFieldWidth {
		t.Fatalf("expected default width, got %d", amount.Width)
	}

	_, _, err = svc.CreateField(ctx, grid.ID, "ada", FieldInput{Name: "Due", Type: "date_time", TypeOption: []byte(`{"include_time":"yes"}`)})
	requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, _, err = svc.CreateField(ctx, grid.ID, "ada", FieldInput{Name: "Bad", Type: "formula"})
	requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	if _, err := svc.MoveField(ctx, grid.ID, amount.ID, 0, "ada"); err != nil {
		t.Fatalf("move field: %v", err)
	}
	if _, err := svc.SetFieldVisibility(ctx, grid.ID, item.ID, false, "ada"); err != nil {
		t.Fatalf("hide field: %v", err)
	}
	view, err := svc.GetGrid(ctx, grid.ID)
	if err != nil {
		t.Fatalf("get grid: %v", err)
	}
	if len(view.Fields) != 2 || view.Fields[0].ID != amount.ID || view.Fields[1].Visibility {
		t.Fatalf("unexpected fields: %+v", view.Fields)
	}

	if _, err := svc.DeleteField(ctx, grid.ID, item.ID, "ada"); err != nil {
		t.Fatalf("delete field: %v", err)
	}
	_, err = svc.DeleteField(ctx, grid.ID, item.ID, "ada")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = svc.SetFieldVisibility(ctx, grid.ID, "fld_missing", true, "ada")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestMoveRowToBlock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, field := createGridWithField(t, svc)
	firstBlock := grid.Blocks[0]

	row, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}
	secondBlock, err := svc.AddBlock(ctx, grid.ID, "ada")
	if err != nil {
		t.Fatalf("add block: %v", err)
	}

	same, err := svc.MoveRowToBlock(ctx, grid.ID, row.Row.ID, firstBlock, "ada")
	if err != nil {
		t.Fatalf("move to same block: %v", err)
	}
	if len(same.Mutations) != 0 {
		t.Fatalf("expected no mutations for same block, got %d", len(same.Mutations))
	}

	moved, err := svc.MoveRowToBlock(ctx, grid.ID, row.Row.ID, secondBlock, "ada")
	if err != nil {
		t.Fatalf("move row: %v", err)
	}
	if moved.Row.BlockID != secondBlock || moved.Row.CellByFieldID[field.ID].Content != "Rent" {
		t.Fatalf("unexpected moved row: %+v", moved.Row)
	}
	listed, err := svc.ListRows(ctx, grid.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(listed.Rows) != 1 || listed.Rows[0].BlockID != secondBlock {
		t.Fatalf("expected row in second block, got %+v", listed.Rows)
	}

	_, err = svc.MoveRowToBlock(ctx, grid.ID, row.Row.ID, "blk_missing", "ada")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestFailedAppendEvictsPad(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{BoltStore: openTestStore(t)}
	svc := newTestService(t, testConfig(), fs)
	grid, field := createGridWithField(t, svc)

	fs.setFail(true)
	if _, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}}); err == nil {
		t.Fatal("expected create row to fail")
	}
	fs.setFail(false)

	listed, err := svc.ListRows(ctx, grid.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(listed.Rows) != 0 {
		t.Fatalf("expected failed row to be discarded, got %+v", listed.Rows)
	}
	if _, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}}); err != nil {
		t.Fatalf("create row after recovery: %v", err)
	}
	report, err := svc.Verify(ctx, grid.Blocks[0])
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent block, got %v", report.Problems)
	}
}

func TestPanicReleasesGridLock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, field := createGridWithField(t, svc)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the edit to panic")
			}
		}()
		_ = svc.withGrid(ctx, grid.ID, func() error { panic("boom") })
	}()

	done := make(chan error, 1)
	go func() {
		_, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("create row after panic: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grid lock still held after a panicking edit")
	}
}

// nextBlockRevision builds the revision another replica would produce by
// adding row to the block.
func nextBlockRevision(t *testing.T, svc *Service, blockID string, row model.RowMeta) IngestInput {
	t.Helper()
	revs, err := svc.Revisions(context.Background(), blockID, 1)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	replica, err := pad.BlockPadFromRevisions(revs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	res, err := replica.AddRow(row)
	if err != nil {
		t.Fatalf("add row on replica: %v", err)
	}
	return IngestInput{
		Sequence: revs[len(revs)-1].Sequence + 1,
		Delta:    res.Change.Delta,
		Checksum: res.Change.Checksum,
	}
}

func TestApplyRevision(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, _ := createGridWithField(t, svc)
	blockID := grid.Blocks[0]
	row := model.RowMeta{ID: "row_remote", BlockID: blockID, Height: 36, Visibility: true}

	input := nextBlockRevision(t, svc, blockID, row)

	stale := input
	stale.Sequence = 1
	_, err := svc.ApplyRevision(ctx, blockID, "replica", stale)
	requireDomainCode(t, err, http.StatusConflict, "SEQUENCE_CONFLICT")

	wrong := input
	wrong.Checksum = "0123456789abcdef0123456789abcdef"
	_, err = svc.ApplyRevision(ctx, blockID, "replica", wrong)
	requireDomainCode(t, err, http.StatusConflict, "CHECKSUM_MISMATCH")

	m, err := svc.ApplyRevision(ctx, blockID, "replica", input)
	if err != nil {
		t.Fatalf("apply revision: %v", err)
	}
	if m.Sequence != input.Sequence || m.Checksum != input.Checksum {
		t.Fatalf("unexpected mutation: %+v", m)
	}

	_, err = svc.ApplyRevision(ctx, blockID, "replica", input)
	requireDomainCode(t, err, http.StatusConflict, "SEQUENCE_CONFLICT")

	_, err = svc.ApplyRevision(ctx, "blk_missing", "replica", input)
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")

	report, err := svc.Verify(ctx, blockID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent || report.Checksum != input.Checksum || report.RelayChecksum != input.Checksum {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestVerifyGrid(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, field := createGridWithField(t, svc)
	if _, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}}); err != nil {
		t.Fatalf("create row: %v", err)
	}

	report, err := svc.Verify(ctx, grid.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent || report.Sequence != 3 || report.CachedChecksum != report.Checksum {
		t.Fatalf("unexpected report: %+v", report)
	}

	_, err = svc.Verify(ctx, "grid_missing")
	requireDomainCode(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestSnapshotsAndAutoSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ArchiveEvery = 3
	svc := newTestService(t, cfg, nil)

	// Grid and block creation write two revisions, the field the third.
	grid, field := createGridWithField(t, svc)
	history, err := svc.History(ctx, grid.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Author != autoSnapshotAuthor {
		t.Fatalf("expected initial and automatic snapshots, got %+v", history)
	}

	info, changed, err := svc.Snapshot(ctx, grid.ID, "ada", "")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if changed || info.Hash != history[0].Hash {
		t.Fatalf("expected unchanged snapshot at head, got %+v changed=%v", info, changed)
	}

	if _, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Rent"}}); err != nil {
		t.Fatalf("create row: %v", err)
	}
	info, changed, err = svc.Snapshot(ctx, grid.ID, "ada", "Added rent")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !changed || info.Message != "Added rent" {
		t.Fatalf("expected new snapshot, got %+v changed=%v", info, changed)
	}

	snap, _, err := svc.GetSnapshot(ctx, grid.ID, info.Hash)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(snap.Blocks) != 1 || len(snap.Blocks[0].Rows) != 1 || len(snap.Fields) != 1 {
		t.Fatalf("unexpected snapshot content: %+v", snap)
	}

	if err := svc.TagSnapshot(ctx, grid.ID, info.Hash, "v1", "ada"); err != nil {
		t.Fatalf("tag snapshot: %v", err)
	}
	err = svc.TagSnapshot(ctx, grid.ID, info.Hash, " ", "ada")
	requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSnapshotWithoutArchive(t *testing.T) {
	svc := New(testConfig(), Deps{Store: openTestStore(t)})
	grid, err := svc.CreateGrid(context.Background(), "Budget", "ada")
	if err != nil {
		t.Fatalf("create grid: %v", err)
	}
	_, _, err = svc.Snapshot(context.Background(), grid.ID, "ada", "")
	requireDomainCode(t, err, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE")
}

func TestSearchFollowsRowEdits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, field := createGridWithField(t, svc)

	row, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{field.ID: "Quarterly rent"}})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}
	resp := svc.Search(search.Query{Text: "rent", GridID: grid.ID})
	if resp.Total != 1 || resp.Results[0].RowID != row.Row.ID {
		t.Fatalf("expected indexed row, got %+v", resp)
	}

	if _, err := svc.DeleteRows(ctx, grid.ID, "ada", []string{row.Row.ID}); err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	if resp := svc.Search(search.Query{Text: "rent", GridID: grid.ID}); resp.Total != 0 {
		t.Fatalf("expected deleted row dropped from index, got %+v", resp)
	}
}

func TestExportTableSkipsHiddenColumns(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)
	grid, item := createGridWithField(t, svc)
	note, _, err := svc.CreateField(ctx, grid.ID, "ada", FieldInput{Name: "Note", Type: "rich_text"})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if _, err := svc.CreateRow(ctx, grid.ID, "ada", RowInput{Cells: map[string]string{item.ID: "Rent", note.ID: "secret"}}); err != nil {
		t.Fatalf("create row: %v", err)
	}
	if _, err := svc.SetFieldVisibility(ctx, grid.ID, note.ID, false, "ada"); err != nil {
		t.Fatalf("hide field: %v", err)
	}

	table, err := svc.ExportTable(ctx, grid.ID)
	if err != nil {
		t.Fatalf("export table: %v", err)
	}
	if table.Title != "Budget" || len(table.Columns) != 1 || table.Columns[0].ID != item.ID {
		t.Fatalf("unexpected columns: %+v", table.Columns)
	}
	if len(table.Rows) != 1 || table.Rows[0].Cells[0] != "Rent" {
		t.Fatalf("unexpected rows: %+v", table.Rows)
	}

	res, err := svc.Export(ctx, grid.ID, "csv", "ada")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.MimeType != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected mime type %q", res.MimeType)
	}
	_, err = svc.Export(ctx, grid.ID, "xlsx", "ada")
	requireDomainCode(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestLoginRoles(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testConfig(), nil)

	tests := []struct {
		name, role, want string
	}{
		{name: "ada", role: "", want: "editor"},
		{name: "ada", role: "viewer", want: "viewer"},
		{name: "ada", role: "admin", want: "editor"},
		{name: "root", role: "admin", want: "admin"},
	}
	for _, tt := range tests {
		sess, err := svc.Login(ctx, tt.name, tt.role)
		if err != nil {
			t.Fatalf("login %s/%s: %v", tt.name, tt.role, err)
		}
		if sess.Role != tt.want {
			t.Fatalf("login %s/%s: expected role %s, got %s", tt.name, tt.role, tt.want, sess.Role)
		}
	}

	sess, err := svc.Login(ctx, "ada", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	refreshed, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("expected reused refresh token to fail")
	}
	if err := svc.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, refreshed.Token); err == nil {
		t.Fatal("expected revoked token to fail")
	}
}
