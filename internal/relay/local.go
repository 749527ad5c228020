package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Local is an in-process relay for single-replica deployments.
type Local struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	checksums map[string]map[int64]string
}

func NewLocal() *Local {
	return &Local{
		subs:      map[string]map[*Subscription]struct{}{},
		checksums: map[string]map[int64]string{},
	}
}

func (l *Local) Publish(ctx context.Context, msg Message) error {
	if err := l.Verify(ctx, msg.ObjectID, msg.Sequence, msg.Checksum); err != nil {
		return err
	}
	msg.Delta = append(json.RawMessage(nil), msg.Delta...)

	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subs[msg.ObjectID] {
		select {
		case sub.ch <- msg:
		default:
			log.Printf("relay: subscriber of %s is slow, dropping sequence %d", msg.ObjectID, msg.Sequence)
		}
	}
	return nil
}

func (l *Local) Verify(_ context.Context, objectID string, sequence int64, checksum string) error {
	if checksum == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bySeq := l.checksums[objectID]
	if bySeq == nil {
		bySeq = map[int64]string{}
		l.checksums[objectID] = bySeq
	}
	recorded, ok := bySeq[sequence]
	if !ok {
		bySeq[sequence] = checksum
		return nil
	}
	if recorded != checksum {
		return divergence(objectID, sequence, recorded, checksum)
	}
	return nil
}

func (l *Local) Checksum(_ context.Context, objectID string, sequence int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checksums[objectID][sequence], nil
}

func (l *Local) Subscribe(_ context.Context, objectID string) (*Subscription, error) {
	sub := &Subscription{ch: make(chan Message, 64)}
	var once sync.Once
	sub.close = func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[objectID], sub)
			l.mu.Unlock()
			close(sub.ch)
		})
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs[objectID] == nil {
		l.subs[objectID] = map[*Subscription]struct{}{}
	}
	l.subs[objectID][sub] = struct{}{}
	return sub, nil
}

func (l *Local) Ping(context.Context) error { return nil }

func (l *Local) Close() error {
	l.mu.Lock()
	var subs []*Subscription
	for _, set := range l.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	l.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
