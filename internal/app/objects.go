package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"gridsync/api/internal/pad"
	"gridsync/api/internal/relay"
	"gridsync/api/internal/revision"
)

// entry is a cached pad and the sequence of the last revision it reflects.
type entry[P any] struct {
	pad P
	seq int64
}

// objectCache holds one mutex per object id and the pads rebuilt from the
// log. Work on an object happens with its mutex held. When a grid and its
// blocks are both involved, the grid is locked first and blocks one at a
// time after it.
type objectCache struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	grids   map[string]*entry[*pad.GridPad]
	blocks  map[string]*entry[*pad.BlockPad]
	written map[string]int
	due     map[string]bool
}

func newObjectCache() *objectCache {
	return &objectCache{
		locks:   make(map[string]*sync.Mutex),
		grids:   make(map[string]*entry[*pad.GridPad]),
		blocks:  make(map[string]*entry[*pad.BlockPad]),
		written: make(map[string]int),
		due:     make(map[string]bool),
	}
}

func (c *objectCache) lock(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *objectCache) grid(id string) *entry[*pad.GridPad] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grids[id]
}

func (c *objectCache) block(id string) *entry[*pad.BlockPad] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[id]
}

func (c *objectCache) putGrid(id string, e *entry[*pad.GridPad]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grids[id] = e
}

func (c *objectCache) putBlock(id string, e *entry[*pad.BlockPad]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[id] = e
}

// evict drops a cached pad; the next access replays the log.
func (c *objectCache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grids, id)
	delete(c.blocks, id)
}

// noteWrite counts a revision against its grid and marks a snapshot due
// every so many revisions.
func (c *objectCache) noteWrite(gridID string, every int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written[gridID]++
	if every > 0 && c.written[gridID]%every == 0 {
		c.due[gridID] = true
	}
}

func (c *objectCache) takeDue(gridID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	due := c.due[gridID]
	delete(c.due, gridID)
	return due
}

// Mutation reports what one edit did to one object.
type Mutation struct {
	ObjectID string          `json:"objectId"`
	Sequence int64           `json:"sequence"`
	Checksum string          `json:"checksum"`
	Changed  bool            `json:"changed"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Missing  []string        `json:"missing,omitempty"`
}

// withGrid runs fn with the grid locked. Once the lock is released it takes
// the automatic snapshot fn's revisions made due, if any.
func (s *Service) withGrid(ctx context.Context, gridID string, fn func() error) error {
	due, err := s.lockedGrid(gridID, fn)
	if due {
		s.autoSnapshot(ctx, gridID)
	}
	return err
}

// lockedGrid runs fn under the grid lock. The lock is released and the due
// flag cleared even if fn panics.
func (s *Service) lockedGrid(gridID string, fn func() error) (due bool, err error) {
	unlock := s.objects.lock(gridID)
	defer unlock()
	defer func() { due = s.objects.takeDue(gridID) }()
	return false, fn()
}

// gridEntry returns the cached grid pad, rebuilding it from the log on a
// miss. The caller holds the grid lock.
func (s *Service) gridEntry(ctx context.Context, gridID string) (*entry[*pad.GridPad], error) {
	if e := s.objects.grid(gridID); e != nil {
		return e, nil
	}
	revs, err := s.store.ListRevisions(ctx, gridID, 1)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, notFound("grid", gridID)
	}
	p, err := pad.GridPadFromRevisions(revs)
	if err != nil {
		return nil, fmt.Errorf("rebuild grid %s: %w", gridID, err)
	}
	e := &entry[*pad.GridPad]{pad: p, seq: revs[len(revs)-1].Sequence}
	s.objects.putGrid(gridID, e)
	return e, nil
}

// blockEntry is gridEntry for blocks. The caller holds the block lock.
func (s *Service) blockEntry(ctx context.Context, blockID string) (*entry[*pad.BlockPad], error) {
	if e := s.objects.block(blockID); e != nil {
		return e, nil
	}
	revs, err := s.store.ListRevisions(ctx, blockID, 1)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, notFound("block", blockID)
	}
	p, err := pad.BlockPadFromRevisions(revs)
	if err != nil {
		return nil, fmt.Errorf("rebuild block %s: %w", blockID, err)
	}
	e := &entry[*pad.BlockPad]{pad: p, seq: revs[len(revs)-1].Sequence}
	s.objects.putBlock(blockID, e)
	return e, nil
}

type padView interface {
	JSON() string
	Checksum() string
}

// edit runs f on a cached pad and commits the change it produced, if any.
func edit[P padView](ctx context.Context, s *Service, e *entry[P], gridID, objectID, author string, f func(P) (pad.Result, error)) (Mutation, error) {
	before := e.pad.JSON()
	res, err := f(e.pad)
	if err != nil {
		return Mutation{}, err
	}
	m := Mutation{ObjectID: objectID, Sequence: e.seq, Checksum: e.pad.Checksum(), Missing: res.Missing}
	if !res.Changed() {
		return m, nil
	}
	rev := revision.New(author, objectID, e.seq+1, res.Change.Delta, res.Change.Checksum)
	if err := s.commit(ctx, gridID, rev, before, e.pad.JSON()); err != nil {
		return Mutation{}, err
	}
	e.seq = rev.Sequence
	m.Sequence = rev.Sequence
	m.Checksum = rev.Checksum
	m.Changed = true
	m.Delta = rev.Delta
	return m, nil
}

// editGrid applies f to the grid pad. The caller holds the grid lock.
func (s *Service) editGrid(ctx context.Context, gridID, author string, f func(*pad.GridPad) (pad.Result, error)) (Mutation, error) {
	e, err := s.gridEntry(ctx, gridID)
	if err != nil {
		return Mutation{}, err
	}
	return edit(ctx, s, e, gridID, gridID, author, f)
}

// editBlock locks blockID and applies f to its pad.
func (s *Service) editBlock(ctx context.Context, gridID, blockID, author string, f func(*pad.BlockPad) (pad.Result, error)) (Mutation, error) {
	unlock := s.objects.lock(blockID)
	defer unlock()
	e, err := s.blockEntry(ctx, blockID)
	if err != nil {
		return Mutation{}, err
	}
	return edit(ctx, s, e, gridID, blockID, author, f)
}

// commit appends rev to the log and announces it. A failed append evicts
// the object's pad, discarding the in-memory edit along with the revision.
// A divergence reported by the relay is returned after the revision is
// stored; the pad is evicted so the next access replays the log.
func (s *Service) commit(ctx context.Context, gridID string, rev revision.Revision, before, after string) error {
	if err := s.store.AppendRevision(ctx, rev); err != nil {
		s.objects.evict(rev.ResourceID)
		log.Printf("app: append revision %s#%d failed, pad evicted: %v", rev.ResourceID, rev.Sequence, err)
		return fmt.Errorf("append revision: %w", err)
	}
	s.objects.noteWrite(gridID, s.cfg.ArchiveEvery)

	msg := relay.Message{
		ObjectID: rev.ResourceID,
		Sequence: rev.Sequence,
		Author:   rev.Author,
		Delta:    rev.Delta,
		Checksum: rev.Checksum,
	}
	if patch, err := relay.MergePatch(before, after); err != nil {
		log.Printf("app: merge patch for %s#%d: %v", rev.ResourceID, rev.Sequence, err)
	} else {
		msg.MergePatch = patch
	}
	if err := s.relay.Publish(ctx, msg); err != nil {
		if errors.Is(err, relay.ErrDivergence) {
			s.objects.evict(rev.ResourceID)
			log.Printf("app: DIVERGENCE on %s#%d: %v", rev.ResourceID, rev.Sequence, err)
			return domainError(http.StatusConflict, "DIVERGENCE", "Replica checksum divergence", map[string]any{
				"objectId": rev.ResourceID,
				"sequence": rev.Sequence,
			})
		}
		log.Printf("app: publish %s#%d: %v", rev.ResourceID, rev.Sequence, err)
	}
	return nil
}
