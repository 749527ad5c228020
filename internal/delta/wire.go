package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Bytes returns the wire form: a JSON array of single-key objects,
// e.g. [{"retain":24},{"insert":"..."},{"delete":77}].
func (d Delta) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, op := range d.ops {
		if i > 0 {
			buf.WriteByte(',')
		}
		switch op.Kind {
		case OpRetain:
			buf.WriteString(`{"retain":`)
			buf.WriteString(strconv.Itoa(op.N))
		case OpDelete:
			buf.WriteString(`{"delete":`)
			buf.WriteString(strconv.Itoa(op.N))
		case OpInsert:
			buf.WriteString(`{"insert":`)
			writeString(&buf, op.Text)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func (d Delta) String() string {
	return string(d.Bytes())
}

func (d Delta) MarshalJSON() ([]byte, error) {
	return d.Bytes(), nil
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	decoded, err := FromBytes(data)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

// FromBytes decodes the wire form. Operations are re-normalized on the way in.
func FromBytes(data []byte) (Delta, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Delta{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := NewBuilder()
	for i, item := range raw {
		if len(item) != 1 {
			return Delta{}, fmt.Errorf("%w: operation %d has %d keys", ErrDecode, i, len(item))
		}
		for key, value := range item {
			switch key {
			case "retain", "delete":
				var n int
				if err := json.Unmarshal(value, &n); err != nil || n < 0 {
					return Delta{}, fmt.Errorf("%w: operation %d has invalid %s length %s", ErrDecode, i, key, value)
				}
				if key == "retain" {
					b.Retain(n)
				} else {
					b.Delete(n)
				}
			case "insert":
				var s string
				if err := json.Unmarshal(value, &s); err != nil {
					return Delta{}, fmt.Errorf("%w: operation %d has invalid insert: %v", ErrDecode, i, err)
				}
				b.Insert(s)
			default:
				return Delta{}, fmt.Errorf("%w: operation %d has unknown kind %q", ErrDecode, i, key)
			}
		}
	}
	return b.Build(), nil
}

// FromString decodes the wire form held in a string.
func FromString(s string) (Delta, error) {
	return FromBytes([]byte(s))
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
}
