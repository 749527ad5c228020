// Package revision defines the durable edit log of a resource and folds it
// back into a single cumulative delta.
package revision

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gridsync/api/internal/delta"
)

var (
	// ErrSequenceGap indicates a log that is not dense and ordered from 1.
	ErrSequenceGap = errors.New("revision sequence gap")
	// ErrChecksumMismatch indicates a replayed state that disagrees with the
	// checksum recorded when the revision was produced.
	ErrChecksumMismatch = errors.New("revision checksum mismatch")
)

// Revision is one immutable entry of a resource's log. Sequence starts at 1
// and increases by one per entry. Checksum, when set, is the checksum of the
// cumulative delta after this revision.
type Revision struct {
	ResourceID string          `json:"resource_id"`
	Sequence   int64           `json:"sequence"`
	Author     string          `json:"author"`
	Delta      json.RawMessage `json:"delta"`
	Checksum   string          `json:"checksum,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func New(author, resourceID string, sequence int64, d delta.Delta, checksum string) Revision {
	return Revision{
		ResourceID: resourceID,
		Sequence:   sequence,
		Author:     author,
		Delta:      d.Bytes(),
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	}
}

// Initial is the first revision of a resource whose whole text is d.
func Initial(author, resourceID string, d delta.Delta) Revision {
	return New(author, resourceID, 1, d, Checksum(d))
}

// Checksum is the hex MD5 of the delta's wire bytes.
func Checksum(d delta.Delta) string {
	sum := md5.Sum(d.Bytes())
	return hex.EncodeToString(sum[:])
}

func (r Revision) DecodeDelta() (delta.Delta, error) {
	d, err := delta.FromBytes(r.Delta)
	if err != nil {
		return delta.Delta{}, fmt.Errorf("revision %s#%d: %w", r.ResourceID, r.Sequence, err)
	}
	return d, nil
}

// Fold composes revs in order onto the empty document. It stops at the first
// revision that cannot be decoded, does not compose, breaks the sequence or
// disagrees with its recorded checksum.
func Fold(revs []Revision) (delta.Delta, error) {
	var acc delta.Delta
	for i, rev := range revs {
		if rev.Sequence != int64(i+1) {
			return delta.Delta{}, fmt.Errorf("%w: position %d holds sequence %d", ErrSequenceGap, i+1, rev.Sequence)
		}
		d, err := rev.DecodeDelta()
		if err != nil {
			return delta.Delta{}, err
		}
		acc, err = acc.Compose(d)
		if err != nil {
			return delta.Delta{}, fmt.Errorf("revision %s#%d: %w", rev.ResourceID, rev.Sequence, err)
		}
		if rev.Checksum != "" {
			if got := Checksum(acc); got != rev.Checksum {
				return delta.Delta{}, fmt.Errorf("%w: %s#%d replays to %s, recorded %s", ErrChecksumMismatch, rev.ResourceID, rev.Sequence, got, rev.Checksum)
			}
		}
	}
	return acc, nil
}
