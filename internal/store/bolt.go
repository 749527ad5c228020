package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"gridsync/api/internal/model"
	"gridsync/api/internal/revision"
)

var (
	revisionsBucket = []byte("revisions")
	gridsBucket     = []byte("grids")
	blocksBucket    = []byte("blocks")
	fieldsBucket    = []byte("fields")
)

// BoltStore keeps the revision log and grid registry in a single bbolt file.
// Revisions of one object live in their own bucket keyed by big-endian
// sequence, so a cursor walks them in order.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{revisionsBucket, gridsBucket, blocksBucket, fieldsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(revisionsBucket) == nil {
			return fmt.Errorf("bolt: missing %s bucket", revisionsBucket)
		}
		return nil
	})
}

func (s *BoltStore) AppendRevision(ctx context.Context, rev revision.Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rev.Sequence < 1 {
		return fmt.Errorf("%w: %s sequence %d", ErrSequenceConflict, rev.ResourceID, rev.Sequence)
	}
	body, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		log, err := tx.Bucket(revisionsBucket).CreateBucketIfNotExists([]byte(rev.ResourceID))
		if err != nil {
			return fmt.Errorf("revision bucket %s: %w", rev.ResourceID, err)
		}
		last := lastSequence(log)
		if rev.Sequence != last+1 {
			return fmt.Errorf("%w: %s expects sequence %d, got %d", ErrSequenceConflict, rev.ResourceID, last+1, rev.Sequence)
		}
		if err := log.Put(seqKey(uint64(rev.Sequence)), body); err != nil {
			return fmt.Errorf("put revision: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) ListRevisions(ctx context.Context, objectID string, fromSeq int64) ([]revision.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var revs []revision.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		log := tx.Bucket(revisionsBucket).Bucket([]byte(objectID))
		if log == nil {
			return nil
		}
		c := log.Cursor()
		for k, v := c.Seek(seqKey(uint64(max(fromSeq, 1)))); k != nil; k, v = c.Next() {
			var rev revision.Revision
			if err := json.Unmarshal(v, &rev); err != nil {
				return fmt.Errorf("decode revision %s#%d: %w", objectID, binary.BigEndian.Uint64(k), err)
			}
			revs = append(revs, rev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

func (s *BoltStore) LatestSequence(ctx context.Context, objectID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var last int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if log := tx.Bucket(revisionsBucket).Bucket([]byte(objectID)); log != nil {
			last = lastSequence(log)
		}
		return nil
	})
	return last, err
}

func (s *BoltStore) CreateGrid(ctx context.Context, grid Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		grids := tx.Bucket(gridsBucket)
		if grids.Get([]byte(grid.ID)) != nil {
			return fmt.Errorf("%w: grid %s", ErrAlreadyExists, grid.ID)
		}
		return grids.Put([]byte(grid.ID), body)
	})
}

func (s *BoltStore) GetGrid(ctx context.Context, gridID string) (Grid, error) {
	if err := ctx.Err(); err != nil {
		return Grid{}, err
	}
	var grid Grid
	err := s.db.View(func(tx *bolt.Tx) error {
		body := tx.Bucket(gridsBucket).Get([]byte(gridID))
		if body == nil {
			return fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
		}
		return json.Unmarshal(body, &grid)
	})
	return grid, err
}

func (s *BoltStore) ListGrids(ctx context.Context) ([]Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var grids []Grid
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(gridsBucket).ForEach(func(_, v []byte) error {
			var grid Grid
			if err := json.Unmarshal(v, &grid); err != nil {
				return fmt.Errorf("decode grid: %w", err)
			}
			grids = append(grids, grid)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list grids: %w", err)
	}
	return grids, nil
}

func (s *BoltStore) AddBlock(ctx context.Context, gridID, blockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(gridsBucket).Get([]byte(gridID)) == nil {
			return fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
		}
		blocks, err := tx.Bucket(blocksBucket).CreateBucketIfNotExists([]byte(gridID))
		if err != nil {
			return err
		}
		exists := false
		err = blocks.ForEach(func(_, v []byte) error {
			var block Block
			if err := json.Unmarshal(v, &block); err != nil {
				return err
			}
			exists = exists || block.BlockID == blockID
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan blocks: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: block %s", ErrAlreadyExists, blockID)
		}
		body, err := json.Marshal(Block{GridID: gridID, BlockID: blockID, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		next, err := blocks.NextSequence()
		if err != nil {
			return err
		}
		return blocks.Put(seqKey(next), body)
	})
}

func (s *BoltStore) ListBlocks(ctx context.Context, gridID string) ([]Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Block
	err := s.db.View(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(blocksBucket).Bucket([]byte(gridID))
		if blocks == nil {
			return nil
		}
		return blocks.ForEach(func(_, v []byte) error {
			var block Block
			if err := json.Unmarshal(v, &block); err != nil {
				return fmt.Errorf("decode block: %w", err)
			}
			out = append(out, block)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return out, nil
}

// GetBlock scans the block registry of every grid for blockID.
func (s *BoltStore) GetBlock(ctx context.Context, blockID string) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	var found *Block
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).ForEachBucket(func(gridID []byte) error {
			blocks := tx.Bucket(blocksBucket).Bucket(gridID)
			return blocks.ForEach(func(_, v []byte) error {
				if found != nil {
					return nil
				}
				var block Block
				if err := json.Unmarshal(v, &block); err != nil {
					return fmt.Errorf("decode block: %w", err)
				}
				if block.BlockID == blockID {
					found = &block
				}
				return nil
			})
		})
	})
	if err != nil {
		return Block{}, fmt.Errorf("get block: %w", err)
	}
	if found == nil {
		return Block{}, fmt.Errorf("%w: block %s", ErrNotFound, blockID)
	}
	return *found, nil
}

func (s *BoltStore) SaveField(ctx context.Context, gridID string, field model.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("encode field: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(gridsBucket).Get([]byte(gridID)) == nil {
			return fmt.Errorf("%w: grid %s", ErrNotFound, gridID)
		}
		fields, err := tx.Bucket(fieldsBucket).CreateBucketIfNotExists([]byte(gridID))
		if err != nil {
			return err
		}
		key, err := fieldKey(fields, field.ID)
		if err != nil {
			return err
		}
		if key == nil {
			next, err := fields.NextSequence()
			if err != nil {
				return err
			}
			key = seqKey(next)
		}
		return fields.Put(key, body)
	})
}

func (s *BoltStore) DeleteField(ctx context.Context, gridID, fieldID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		fields := tx.Bucket(fieldsBucket).Bucket([]byte(gridID))
		if fields == nil {
			return fmt.Errorf("%w: field %s", ErrNotFound, fieldID)
		}
		key, err := fieldKey(fields, fieldID)
		if err != nil {
			return err
		}
		if key == nil {
			return fmt.Errorf("%w: field %s", ErrNotFound, fieldID)
		}
		return fields.Delete(key)
	})
}

func (s *BoltStore) ListFields(ctx context.Context, gridID string) ([]model.Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.Field
	err := s.db.View(func(tx *bolt.Tx) error {
		fields := tx.Bucket(fieldsBucket).Bucket([]byte(gridID))
		if fields == nil {
			return nil
		}
		return fields.ForEach(func(_, v []byte) error {
			var field model.Field
			if err := json.Unmarshal(v, &field); err != nil {
				return fmt.Errorf("decode field: %w", err)
			}
			out = append(out, field)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return out, nil
}

// fieldKey finds the key under which fieldID is stored, or nil.
func fieldKey(fields *bolt.Bucket, fieldID string) ([]byte, error) {
	var key []byte
	err := fields.ForEach(func(k, v []byte) error {
		var field struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &field); err != nil {
			return fmt.Errorf("decode field: %w", err)
		}
		if field.ID == fieldID {
			key = bytes.Clone(k)
		}
		return nil
	})
	return key, err
}

func lastSequence(log *bolt.Bucket) int64 {
	k, _ := log.Cursor().Last()
	if k == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k))
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}
