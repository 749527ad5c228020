package app

import (
	"context"
	"fmt"
	"net/http"

	"gridsync/api/internal/delta"
	"gridsync/api/internal/pad"
	"gridsync/api/internal/relay"
	"gridsync/api/internal/revision"
)

// IngestInput is a revision produced by another replica.
type IngestInput struct {
	Sequence int64       `json:"sequence"`
	Delta    delta.Delta `json:"delta"`
	Checksum string      `json:"checksum"`
}

// ApplyRevision composes a revision from another replica onto the object.
// It must directly follow the local log, and when it carries a checksum the
// composed state has to reproduce it.
func (s *Service) ApplyRevision(ctx context.Context, objectID, author string, input IngestInput) (Mutation, error) {
	gridID, isGrid, err := s.objectKind(ctx, objectID)
	if err != nil {
		return Mutation{}, err
	}

	var m Mutation
	err = s.withGrid(ctx, gridID, func() error {
		if isGrid {
			e, err := s.gridEntry(ctx, gridID)
			if err != nil {
				return err
			}
			m, err = ingest(ctx, s, e, gridID, objectID, author, input)
			return err
		}
		unlock := s.objects.lock(objectID)
		defer unlock()
		e, err := s.blockEntry(ctx, objectID)
		if err != nil {
			return err
		}
		m, err = ingest(ctx, s, e, gridID, objectID, author, input)
		return err
	})
	if err != nil {
		return Mutation{}, err
	}
	if !isGrid {
		s.reindexBlock(ctx, gridID, objectID)
	}
	return m, nil
}

type appliable interface {
	padView
	Apply(delta.Delta) (pad.Result, error)
}

func ingest[P appliable](ctx context.Context, s *Service, e *entry[P], gridID, objectID, author string, input IngestInput) (Mutation, error) {
	if input.Sequence != e.seq+1 {
		return Mutation{}, domainError(http.StatusConflict, "SEQUENCE_CONFLICT", "Revision does not follow the log", map[string]any{
			"expected": e.seq + 1,
			"got":      input.Sequence,
		})
	}
	before := e.pad.JSON()
	res, err := e.pad.Apply(input.Delta)
	if err != nil {
		return Mutation{}, domainError(http.StatusUnprocessableEntity, "INVALID_DELTA", err.Error(), nil)
	}
	if !res.Changed() {
		return Mutation{}, domainError(http.StatusUnprocessableEntity, "EMPTY_REVISION", "Revision does not change the object", nil)
	}
	if input.Checksum != "" && input.Checksum != res.Change.Checksum {
		s.objects.evict(objectID)
		return Mutation{}, domainError(http.StatusConflict, "CHECKSUM_MISMATCH", "Revision checksum does not match the composed state", map[string]any{
			"expected": input.Checksum,
			"got":      res.Change.Checksum,
		})
	}

	rev := revision.New(author, objectID, input.Sequence, res.Change.Delta, res.Change.Checksum)
	if err := s.commit(ctx, gridID, rev, before, e.pad.JSON()); err != nil {
		return Mutation{}, err
	}
	e.seq = rev.Sequence
	return Mutation{
		ObjectID: objectID,
		Sequence: rev.Sequence,
		Checksum: rev.Checksum,
		Changed:  true,
		Delta:    rev.Delta,
	}, nil
}

// VerifyReport compares every view of an object's state.
type VerifyReport struct {
	ObjectID       string   `json:"objectId"`
	Sequence       int64    `json:"sequence"`
	Checksum       string   `json:"checksum"`
	CachedChecksum string   `json:"cachedChecksum,omitempty"`
	RelayChecksum  string   `json:"relayChecksum,omitempty"`
	Consistent     bool     `json:"consistent"`
	Problems       []string `json:"problems"`
}

// Verify replays the object's log twice and compares the results with each
// other, with the cached pad and with the checksum the relay registry holds
// for the same sequence.
func (s *Service) Verify(ctx context.Context, objectID string) (VerifyReport, error) {
	gridID, isGrid, err := s.objectKind(ctx, objectID)
	if err != nil {
		return VerifyReport{}, err
	}
	revs, err := s.store.ListRevisions(ctx, objectID, 1)
	if err != nil {
		return VerifyReport{}, err
	}
	if len(revs) == 0 {
		return VerifyReport{}, notFound("object", objectID)
	}

	report := VerifyReport{ObjectID: objectID, Sequence: revs[len(revs)-1].Sequence, Problems: []string{}}
	first, err := replay(revs, isGrid)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report, nil
	}
	second, err := replay(revs, isGrid)
	if err != nil {
		return VerifyReport{}, err
	}
	report.Checksum = first.checksum
	if first != second {
		report.Problems = append(report.Problems, "replay is not deterministic")
	}

	unlock := s.objects.lock(gridID)
	if isGrid {
		if e := s.objects.grid(objectID); e != nil && e.seq == report.Sequence {
			report.CachedChecksum = e.pad.Checksum()
		}
	} else {
		blockUnlock := s.objects.lock(objectID)
		if e := s.objects.block(objectID); e != nil && e.seq == report.Sequence {
			report.CachedChecksum = e.pad.Checksum()
		}
		blockUnlock()
	}
	unlock()
	if report.CachedChecksum != "" && report.CachedChecksum != report.Checksum {
		report.Problems = append(report.Problems, fmt.Sprintf("cached pad checksum %s differs from log", report.CachedChecksum))
	}

	recorded, err := s.relay.Checksum(ctx, objectID, report.Sequence)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("read relay checksum: %w", err)
	}
	report.RelayChecksum = recorded
	if recorded != "" && recorded != report.Checksum {
		report.Problems = append(report.Problems, fmt.Sprintf("relay recorded checksum %s", recorded))
	}

	report.Consistent = len(report.Problems) == 0
	return report, nil
}

type replayed struct {
	text     string
	checksum string
}

func replay(revs []revision.Revision, isGrid bool) (replayed, error) {
	if isGrid {
		p, err := pad.GridPadFromRevisions(revs)
		if err != nil {
			return replayed{}, err
		}
		return replayed{text: p.JSON(), checksum: p.Checksum()}, nil
	}
	p, err := pad.BlockPadFromRevisions(revs)
	if err != nil {
		return replayed{}, err
	}
	return replayed{text: p.JSON(), checksum: p.Checksum()}, nil
}

// Subscribe streams the revisions of an object as the relay announces them.
func (s *Service) Subscribe(ctx context.Context, objectID string) (*relay.Subscription, error) {
	if _, _, err := s.objectKind(ctx, objectID); err != nil {
		return nil, err
	}
	return s.relay.Subscribe(ctx, objectID)
}
