package delta

// Builder accumulates operations in normalized form: empty ops are dropped,
// neighbours of the same kind are merged and an insert never follows a delete
// directly. Two builders fed equivalent edits therefore produce identical
// wire bytes.
type Builder struct {
	ops       []Op
	baseLen   int
	targetLen int
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Retain(n int) *Builder {
	if n <= 0 {
		return b
	}
	b.baseLen += n
	b.targetLen += n
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == OpRetain {
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Retain(n))
	return b
}

func (b *Builder) Delete(n int) *Builder {
	if n <= 0 {
		return b
	}
	b.baseLen += n
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == OpDelete {
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Delete(n))
	return b
}

func (b *Builder) Insert(s string) *Builder {
	op := Insert(s)
	if s == "" {
		return b
	}
	b.targetLen += op.Len()

	last := len(b.ops) - 1
	if last >= 0 && b.ops[last].Kind == OpInsert {
		b.ops[last].Text += s
		return b
	}
	if last >= 0 && b.ops[last].Kind == OpDelete {
		if last >= 1 && b.ops[last-1].Kind == OpInsert {
			b.ops[last-1].Text += s
			return b
		}
		b.ops = append(b.ops, b.ops[last])
		b.ops[last] = op
		return b
	}
	b.ops = append(b.ops, op)
	return b
}

// Push appends op through the matching builder method.
func (b *Builder) Push(op Op) *Builder {
	switch op.Kind {
	case OpRetain:
		return b.Retain(op.N)
	case OpInsert:
		return b.Insert(op.Text)
	case OpDelete:
		return b.Delete(op.N)
	default:
		return b
	}
}

func (b *Builder) Build() Delta {
	ops := make([]Op, len(b.ops))
	copy(ops, b.ops)
	return Delta{ops: ops, baseLen: b.baseLen, targetLen: b.targetLen}
}
