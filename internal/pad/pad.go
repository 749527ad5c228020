// Package pad keeps an aggregate together with the cumulative delta that
// reproduces its canonical JSON text, and turns every structural edit into a
// composable, checksummed change.
//
// A Pad is not safe for concurrent use. Callers serialize mutations per
// resource; distinct pads share nothing.
package pad

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gridsync/api/internal/delta"
	"gridsync/api/internal/revision"
)

var (
	// ErrDecode indicates text that does not parse as the pad's aggregate.
	ErrDecode = errors.New("document decode failed")
	// ErrNotCanonical indicates text that parses but does not re-encode to
	// the same bytes, so later diffs could not be composed onto it.
	ErrNotCanonical = errors.New("document text is not canonical")
	// ErrDuplicateID indicates an insert of an id the aggregate already holds.
	ErrDuplicateID = errors.New("duplicate id")
)

// Document is an aggregate a Pad can manage.
type Document[A any] interface {
	Clone() A
	ResourceID() string
}

// Change is the result of a committed edit: the incremental delta to persist
// or broadcast and the checksum of the pad's cumulative delta afterwards.
type Change struct {
	Delta    delta.Delta
	Checksum string
}

// Edit is what a mutation closure reports back to Modify.
type Edit struct {
	Changed bool
	Missing []string
}

var (
	Unchanged = Edit{}
	Changed   = Edit{Changed: true}
)

// Missed reports ids the edit referenced but could not find.
func Missed(ids ...string) Edit {
	return Edit{Missing: ids}
}

// Result of Modify. Change is nil when nothing in the canonical text moved.
// Missing lists ids that were not found; they are not an error.
type Result struct {
	Change  *Change
	Missing []string
}

func (r Result) Changed() bool { return r.Change != nil }

type Pad[A Document[A]] struct {
	doc    A
	delta  delta.Delta
	text   string
	decode func(string) (A, error)
}

// New starts a pad whose delta is a single insert of doc's canonical text.
func New[A Document[A]](doc A, decode func(string) (A, error)) (*Pad[A], error) {
	text, err := Canonical(doc)
	if err != nil {
		return nil, err
	}
	return &Pad[A]{doc: doc, delta: delta.Insertion(text), text: text, decode: decode}, nil
}

// FromDelta materializes d and parses it as the aggregate.
func FromDelta[A Document[A]](d delta.Delta, decode func(string) (A, error)) (*Pad[A], error) {
	doc, text, err := materialize(d, decode)
	if err != nil {
		return nil, err
	}
	return &Pad[A]{doc: doc, delta: d, text: text, decode: decode}, nil
}

// FromRevisions rebuilds a pad from its complete, ordered log.
func FromRevisions[A Document[A]](revs []revision.Revision, decode func(string) (A, error)) (*Pad[A], error) {
	d, err := revision.Fold(revs)
	if err != nil {
		return nil, fmt.Errorf("fold revisions: %w", err)
	}
	return FromDelta(d, decode)
}

// Modify runs f against a private working copy of the aggregate. The copy
// replaces the live aggregate only once its diff has been composed into the
// cumulative delta, so a failing edit leaves the pad exactly as it was.
func (p *Pad[A]) Modify(f func(A) (Edit, error)) (Result, error) {
	working := p.doc.Clone()
	edit, err := f(working)
	if err != nil {
		return Result{}, err
	}
	result := Result{Missing: edit.Missing}
	if !edit.Changed {
		return result, nil
	}

	next, err := Canonical(working)
	if err != nil {
		return Result{}, err
	}
	d, ok := delta.Diff(p.text, next)
	if !ok {
		return result, nil
	}
	composed, err := p.delta.Compose(d)
	if err != nil {
		return Result{}, fmt.Errorf("compose change for %s: %w", p.doc.ResourceID(), err)
	}

	p.doc = working
	p.delta = composed
	p.text = next
	result.Change = &Change{Delta: d, Checksum: revision.Checksum(composed)}
	return result, nil
}

// Apply composes a delta produced elsewhere, typically by another replica,
// and re-parses the aggregate from the result.
func (p *Pad[A]) Apply(d delta.Delta) (Result, error) {
	composed, err := p.delta.Compose(d)
	if err != nil {
		return Result{}, fmt.Errorf("compose remote change for %s: %w", p.doc.ResourceID(), err)
	}
	doc, text, err := materialize(composed, p.decode)
	if err != nil {
		return Result{}, err
	}
	if text == p.text {
		return Result{}, nil
	}
	p.doc = doc
	p.delta = composed
	p.text = text
	return Result{Change: &Change{Delta: d, Checksum: revision.Checksum(composed)}}, nil
}

// Document returns a copy of the aggregate.
func (p *Pad[A]) Document() A { return p.doc.Clone() }

func (p *Pad[A]) ResourceID() string { return p.doc.ResourceID() }

func (p *Pad[A]) Delta() delta.Delta { return p.delta }

func (p *Pad[A]) DeltaString() string { return p.delta.String() }

func (p *Pad[A]) DeltaBytes() []byte { return p.delta.Bytes() }

// JSON is the canonical text of the aggregate.
func (p *Pad[A]) JSON() string { return p.text }

func (p *Pad[A]) Checksum() string { return revision.Checksum(p.delta) }

// InitialRevision is a one-entry log equivalent to the pad's current state.
func (p *Pad[A]) InitialRevision(author string) revision.Revision {
	return revision.Initial(author, p.doc.ResourceID(), p.delta)
}

// Canonical encodes v the same way on every replica: struct field order,
// sorted map keys, no HTML escaping, no trailing newline.
func Canonical(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode canonical json: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func materialize[A Document[A]](d delta.Delta, decode func(string) (A, error)) (A, string, error) {
	var zero A
	text, err := d.Text()
	if err != nil {
		return zero, "", fmt.Errorf("materialize delta: %w", err)
	}
	doc, err := decode(text)
	if err != nil {
		return zero, "", err
	}
	canonical, err := Canonical(doc)
	if err != nil {
		return zero, "", err
	}
	if canonical != text {
		return zero, "", fmt.Errorf("%w: %s", ErrNotCanonical, doc.ResourceID())
	}
	return doc, text, nil
}

func decodeJSON(kind, text string, target any) error {
	if err := json.Unmarshal([]byte(text), target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, kind, err)
	}
	return nil
}

func logMissing(kind, resourceID string, ids []string) {
	for _, id := range ids {
		log.Printf("pad: %s %s: can't find %s", kind, resourceID, id)
	}
}
