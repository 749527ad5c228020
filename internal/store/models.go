package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSequenceConflict indicates an append whose sequence is not the next
	// one for its object, usually because another writer got there first.
	ErrSequenceConflict = errors.New("revision sequence conflict")
	ErrAlreadyExists    = errors.New("already exists")
)

// Grid is the registry entry of a grid. Its content lives in the revision
// logs of the grid object and of each block.
type Grid struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Block struct {
	GridID    string    `json:"grid_id"`
	BlockID   string    `json:"block_id"`
	CreatedAt time.Time `json:"created_at"`
}
