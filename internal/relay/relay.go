// Package relay broadcasts committed revisions between replicas and keeps a
// registry of the checksum each replica reported per sequence.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
)

// ErrDivergence means two replicas reported different checksums for the same
// revision of an object. It is never resolved here.
var ErrDivergence = errors.New("replica checksum divergence")

// Message announces one committed revision.
type Message struct {
	ObjectID string          `json:"object_id"`
	Sequence int64           `json:"sequence"`
	Author   string          `json:"author"`
	Delta    json.RawMessage `json:"delta"`
	Checksum string          `json:"checksum"`
	// MergePatch is an RFC 7386 patch from the previous to the new JSON of
	// the object, for clients that do not track deltas.
	MergePatch json.RawMessage `json:"merge_patch,omitempty"`
}

// MergePatch computes the JSON merge patch turning before into after.
func MergePatch(before, after string) (json.RawMessage, error) {
	patch, err := jsonpatch.CreateMergePatch([]byte(before), []byte(after))
	if err != nil {
		return nil, fmt.Errorf("create merge patch: %w", err)
	}
	return patch, nil
}

// Subscription delivers the messages of one object until closed.
type Subscription struct {
	ch    chan Message
	close func() error
}

func (s *Subscription) C() <-chan Message { return s.ch }

func (s *Subscription) Close() error { return s.close() }

// Relay is implemented by RedisRelay and Local.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	Verify(ctx context.Context, objectID string, sequence int64, checksum string) error
	Checksum(ctx context.Context, objectID string, sequence int64) (string, error)
	Subscribe(ctx context.Context, objectID string) (*Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

func divergence(objectID string, sequence int64, recorded, reported string) error {
	return fmt.Errorf("%w: %s#%d recorded %s, reported %s", ErrDivergence, objectID, sequence, recorded, reported)
}
