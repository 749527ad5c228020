package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"gridsync/api/internal/model"
	"gridsync/api/internal/revision"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AppendRevision stores rev if its sequence directly follows the last stored
// one for the object. Appends for one object are serialized with an advisory
// lock; the primary key catches anything that slips past it.
func (s *PostgresStore) AppendRevision(ctx context.Context, rev revision.Revision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rev.ResourceID); err != nil {
		return fmt.Errorf("lock revisions of %s: %w", rev.ResourceID, err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM revisions WHERE object_id=$1`, rev.ResourceID).Scan(&last); err != nil {
		return fmt.Errorf("read latest sequence: %w", err)
	}
	if rev.Sequence != last+1 {
		return fmt.Errorf("%w: %s expects sequence %d, got %d", ErrSequenceConflict, rev.ResourceID, last+1, rev.Sequence)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO revisions (object_id, sequence, author, delta, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rev.ResourceID, rev.Sequence, rev.Author, string(rev.Delta), rev.Checksum, rev.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s sequence %d already stored", ErrSequenceConflict, rev.ResourceID, rev.Sequence)
	}
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revision: %w", err)
	}
	return nil
}

// ListRevisions returns the revisions of objectID from fromSeq on, in
// sequence order.
func (s *PostgresStore) ListRevisions(ctx context.Context, objectID string, fromSeq int64) ([]revision.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id, sequence, author, delta, checksum, created_at
		FROM revisions
		WHERE object_id = $1 AND sequence >= $2
		ORDER BY sequence
	`, objectID, max(fromSeq, 1))
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revs []revision.Revision
	for rows.Next() {
		var (
			rev   revision.Revision
			delta string
		)
		if err := rows.Scan(&rev.ResourceID, &rev.Sequence, &rev.Author, &delta, &rev.Checksum, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		rev.Delta = json.RawMessage(delta)
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return revs, nil
}

func (s *PostgresStore) LatestSequence(ctx context.Context, objectID string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM revisions WHERE object_id=$1`, objectID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("read latest sequence: %w", err)
	}
	return last, nil
}

func (s *PostgresStore) CreateGrid(ctx context.Context, grid Grid) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grids (id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`, grid.ID, grid.Name, grid.CreatedBy, grid.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: grid %s", ErrAlreadyExists, grid.ID)
	}
	if err != nil {
		return fmt.Errorf("insert grid: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGrid(ctx context.Context, gridID string) (Grid, error) {
	var grid Grid
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM grids WHERE id=$1`, gridID).
		Scan(&grid.ID, &grid.Name, &grid.CreatedBy, &grid.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Grid{}, fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
	}
	if err != nil {
		return Grid{}, fmt.Errorf("read grid: %w", err)
	}
	return grid, nil
}

func (s *PostgresStore) ListGrids(ctx context.Context) ([]Grid, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_by, created_at FROM grids ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list grids: %w", err)
	}
	defer rows.Close()

	var grids []Grid
	for rows.Next() {
		var grid Grid
		if err := rows.Scan(&grid.ID, &grid.Name, &grid.CreatedBy, &grid.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grid: %w", err)
		}
		grids = append(grids, grid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grids: %w", err)
	}
	return grids, nil
}

func (s *PostgresStore) AddBlock(ctx context.Context, gridID, blockID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO grid_blocks (grid_id, block_id) VALUES ($1, $2)`, gridID, blockID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: block %s", ErrAlreadyExists, blockID)
	}
	if hasCode(err, foreignKeyViolation) {
		return fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
	}
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, gridID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT grid_id, block_id, created_at FROM grid_blocks WHERE grid_id=$1 ORDER BY ord
	`, gridID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var block Block
		if err := rows.Scan(&block.GridID, &block.BlockID, &block.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

// GetBlock finds the grid a block belongs to.
func (s *PostgresStore) GetBlock(ctx context.Context, blockID string) (Block, error) {
	var block Block
	err := s.db.QueryRowContext(ctx, `
		SELECT grid_id, block_id, created_at FROM grid_blocks WHERE block_id=$1
	`, blockID).Scan(&block.GridID, &block.BlockID, &block.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Block{}, fmt.Errorf("%w: block %s", ErrNotFound, blockID)
	}
	if err != nil {
		return Block{}, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}

// SaveField inserts or replaces a field. A replaced field keeps its position.
func (s *PostgresStore) SaveField(ctx context.Context, gridID string, field model.Field) error {
	body, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("encode field: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grid_fields (grid_id, field_id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (grid_id, field_id) DO UPDATE SET body=EXCLUDED.body, updated_at=NOW()
	`, gridID, field.ID, body)
	if hasCode(err, foreignKeyViolation) {
		return fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
	}
	if err != nil {
		return fmt.Errorf("save field: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteField(ctx context.Context, gridID, fieldID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM grid_fields WHERE grid_id=$1 AND field_id=$2`, gridID, fieldID)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete field rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: field %s", ErrNotFound, fieldID)
	}
	return nil
}

func (s *PostgresStore) ListFields(ctx context.Context, gridID string) ([]model.Field, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM grid_fields WHERE grid_id=$1 ORDER BY ord`, gridID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []model.Field
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		var field model.Field
		if err := json.Unmarshal(body, &field); err != nil {
			return nil, fmt.Errorf("decode field: %w", err)
		}
		fields = append(fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return fields, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
