package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"gridsync/api/internal/archive"
	"gridsync/api/internal/model"
)

const autoSnapshotAuthor = "gridsync"

func (s *Service) archiveUnavailable() error {
	return domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Snapshot archive is not configured", nil)
}

// buildSnapshot captures the grid and all of its blocks. The grid lock is
// held while the blocks are read so no row moves between them meanwhile.
func (s *Service) buildSnapshot(ctx context.Context, gridID string) (archive.Snapshot, error) {
	blocks, err := s.store.ListBlocks(ctx, gridID)
	if err != nil {
		return archive.Snapshot{}, err
	}
	snap := archive.Snapshot{
		GridID:    gridID,
		Blocks:    []model.Block{},
		Sequences: map[string]int64{},
		Checksums: map[string]string{},
	}

	unlock := s.objects.lock(gridID)
	defer unlock()
	e, err := s.gridEntry(ctx, gridID)
	if err != nil {
		return archive.Snapshot{}, err
	}
	snap.Grid = e.pad.GridData()
	snap.Sequences[gridID] = e.seq
	snap.Checksums[gridID] = e.pad.Checksum()

	for _, b := range blocks {
		err := func() error {
			blockUnlock := s.objects.lock(b.BlockID)
			defer blockUnlock()
			be, err := s.blockEntry(ctx, b.BlockID)
			if err != nil {
				return err
			}
			snap.Blocks = append(snap.Blocks, *be.pad.Document())
			snap.Sequences[b.BlockID] = be.seq
			snap.Checksums[b.BlockID] = be.pad.Checksum()
			return nil
		}()
		if err != nil {
			return archive.Snapshot{}, err
		}
	}

	fields, err := s.orderedFields(ctx, gridID, snap.Grid.FieldOrders)
	if err != nil {
		return archive.Snapshot{}, err
	}
	snap.Fields = fields
	return snap, nil
}

// ensureArchive creates the archive repository of a new grid. Failures are
// logged; the first snapshot retries.
func (s *Service) ensureArchive(ctx context.Context, gridID, author string) {
	if s.archive == nil {
		return
	}
	snap, err := s.buildSnapshot(ctx, gridID)
	if err != nil {
		log.Printf("app: archive grid %s: %v", gridID, err)
		return
	}
	if err := s.archive.EnsureRepo(gridID, snap, author); err != nil {
		log.Printf("app: archive grid %s: %v", gridID, err)
	}
}

// Snapshot commits the current state of a grid to its archive. Changed is
// false when the state equals the newest snapshot, which is then returned.
func (s *Service) Snapshot(ctx context.Context, gridID, author, message string) (archive.CommitInfo, bool, error) {
	if s.archive == nil {
		return archive.CommitInfo{}, false, s.archiveUnavailable()
	}
	snap, err := s.buildSnapshot(ctx, gridID)
	if err != nil {
		return archive.CommitInfo{}, false, err
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Snapshot at revision %d", snap.Sequences[gridID])
	}
	if err := s.archive.EnsureRepo(gridID, snap, author); err != nil {
		return archive.CommitInfo{}, false, err
	}
	info, err := s.archive.CommitSnapshot(gridID, snap, author, message)
	if errors.Is(err, archive.ErrNoChanges) {
		head, err := s.archive.History(gridID, 1)
		if err != nil {
			return archive.CommitInfo{}, false, err
		}
		if len(head) == 0 {
			return archive.CommitInfo{}, false, notFound("snapshot", gridID)
		}
		return head[0], false, nil
	}
	if err != nil {
		return archive.CommitInfo{}, false, err
	}
	return info, true, nil
}

func (s *Service) autoSnapshot(ctx context.Context, gridID string) {
	if s.archive == nil {
		return
	}
	info, changed, err := s.Snapshot(ctx, gridID, autoSnapshotAuthor, "")
	if err != nil {
		log.Printf("app: auto snapshot of grid %s: %v", gridID, err)
		return
	}
	if changed {
		log.Printf("app: auto snapshot of grid %s at %s", gridID, info.Hash)
	}
}

func (s *Service) History(ctx context.Context, gridID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return nil, s.archiveUnavailable()
	}
	if _, err := s.store.GetGrid(ctx, gridID); err != nil {
		return nil, notFound("grid", gridID)
	}
	history, err := s.archive.History(gridID, limit)
	if errors.Is(err, archive.ErrNotFound) {
		return []archive.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Service) GetSnapshot(ctx context.Context, gridID, hash string) (archive.Snapshot, archive.CommitInfo, error) {
	if s.archive == nil {
		return archive.Snapshot{}, archive.CommitInfo{}, s.archiveUnavailable()
	}
	snap, info, err := s.archive.GetSnapshot(gridID, hash)
	if errors.Is(err, archive.ErrNotFound) {
		return archive.Snapshot{}, archive.CommitInfo{}, notFound("snapshot", hash)
	}
	return snap, info, err
}

func (s *Service) TagSnapshot(ctx context.Context, gridID, hash, name, author string) error {
	if s.archive == nil {
		return s.archiveUnavailable()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("name is required")
	}
	err := s.archive.Tag(gridID, hash, name, author)
	if errors.Is(err, archive.ErrNotFound) {
		return notFound("snapshot", hash)
	}
	return err
}
