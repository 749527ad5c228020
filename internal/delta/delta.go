// Package delta implements plain-text edit scripts: ordered retain, insert and
// delete operations over a flat text, counted in Unicode code points.
//
// A Delta built against the empty document (base length 0) encodes a whole
// text; composing such a delta with the diffs of later edits keeps it equal to
// the current text. That property is what the revision log relies on.
package delta

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	// ErrCompose indicates two deltas whose lengths do not line up.
	ErrCompose = errors.New("delta compose mismatch")
	// ErrLengthMismatch indicates a delta applied to a text of the wrong length.
	ErrLengthMismatch = errors.New("delta length mismatch")
	// ErrDecode indicates wire bytes that are not a valid delta.
	ErrDecode = errors.New("delta decode failed")
)

type OpKind int

const (
	OpRetain OpKind = iota + 1
	OpInsert
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpRetain:
		return "retain"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a single operation. N is used by retain and delete, Text by insert.
type Op struct {
	Kind OpKind
	N    int
	Text string
}

func Retain(n int) Op    { return Op{Kind: OpRetain, N: n} }
func Insert(s string) Op { return Op{Kind: OpInsert, Text: s} }
func Delete(n int) Op    { return Op{Kind: OpDelete, N: n} }

// Len is the number of code points the op covers.
func (o Op) Len() int {
	if o.Kind == OpInsert {
		return utf8.RuneCountInString(o.Text)
	}
	return o.N
}

// split cuts o after n code points.
func (o Op) split(n int) (Op, Op) {
	if o.Kind != OpInsert {
		return Op{Kind: o.Kind, N: n}, Op{Kind: o.Kind, N: o.N - n}
	}
	runes := []rune(o.Text)
	return Insert(string(runes[:n])), Insert(string(runes[n:]))
}

// Delta is an immutable edit script. The zero value is the empty delta over
// the empty document.
type Delta struct {
	ops       []Op
	baseLen   int
	targetLen int
}

// Insertion returns the delta that produces text from the empty document.
func Insertion(text string) Delta {
	return NewBuilder().Insert(text).Build()
}

// Ops returns a copy of the operations.
func (d Delta) Ops() []Op { return slices.Clone(d.ops) }

// BaseLen is the length of the text the delta applies to.
func (d Delta) BaseLen() int { return d.baseLen }

// TargetLen is the length of the text the delta produces.
func (d Delta) TargetLen() int { return d.targetLen }

// IsNoop reports whether applying d leaves any text unchanged.
func (d Delta) IsNoop() bool {
	for _, op := range d.ops {
		if op.Kind != OpRetain {
			return false
		}
	}
	return true
}

// Apply runs the delta over text.
func (d Delta) Apply(text string) (string, error) {
	src := []rune(text)
	if len(src) != d.baseLen {
		return "", fmt.Errorf("%w: delta expects %d code points, text has %d", ErrLengthMismatch, d.baseLen, len(src))
	}
	var out strings.Builder
	idx := 0
	for _, op := range d.ops {
		switch op.Kind {
		case OpRetain:
			out.WriteString(string(src[idx : idx+op.N]))
			idx += op.N
		case OpInsert:
			out.WriteString(op.Text)
		case OpDelete:
			idx += op.N
		}
	}
	return out.String(), nil
}

// Text materializes a delta built against the empty document.
func (d Delta) Text() (string, error) {
	if d.baseLen != 0 {
		return "", fmt.Errorf("%w: delta is relative to a %d code point document", ErrLengthMismatch, d.baseLen)
	}
	return d.Apply("")
}

// Compose returns the delta equivalent to applying d and then other.
func (d Delta) Compose(other Delta) (Delta, error) {
	if d.targetLen != other.baseLen {
		return Delta{}, fmt.Errorf("%w: first delta produces %d code points, second expects %d", ErrCompose, d.targetLen, other.baseLen)
	}

	b := NewBuilder()
	i1, i2 := 0, 0
	op1, ok1 := next(d.ops, &i1)
	op2, ok2 := next(other.ops, &i2)
	for ok1 || ok2 {
		if ok1 && op1.Kind == OpDelete {
			b.Delete(op1.N)
			op1, ok1 = next(d.ops, &i1)
			continue
		}
		if ok2 && op2.Kind == OpInsert {
			b.Insert(op2.Text)
			op2, ok2 = next(other.ops, &i2)
			continue
		}
		if !ok1 || !ok2 {
			return Delta{}, fmt.Errorf("%w: operation streams out of step", ErrCompose)
		}

		n := min(op1.Len(), op2.Len())
		head1, rest1 := op1.split(n)
		_, rest2 := op2.split(n)
		switch {
		case op1.Kind == OpRetain && op2.Kind == OpRetain:
			b.Retain(n)
		case op1.Kind == OpRetain && op2.Kind == OpDelete:
			b.Delete(n)
		case op1.Kind == OpInsert && op2.Kind == OpRetain:
			b.Insert(head1.Text)
		case op1.Kind == OpInsert && op2.Kind == OpDelete:
			// inserted then deleted: nothing survives
		}
		op1, ok1 = advance(rest1, d.ops, &i1)
		op2, ok2 = advance(rest2, other.ops, &i2)
	}
	return b.Build(), nil
}

func next(ops []Op, i *int) (Op, bool) {
	if *i >= len(ops) {
		return Op{}, false
	}
	op := ops[*i]
	*i++
	return op, true
}

func advance(rest Op, ops []Op, i *int) (Op, bool) {
	if rest.Len() > 0 {
		return rest, true
	}
	return next(ops, i)
}
