package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type FieldType string

const (
	FieldRichText     FieldType = "rich_text"
	FieldNumber       FieldType = "number"
	FieldDateTime     FieldType = "date_time"
	FieldSingleSelect FieldType = "single_select"
	FieldMultiSelect  FieldType = "multi_select"
	FieldCheckbox     FieldType = "checkbox"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldRichText, FieldNumber, FieldDateTime, FieldSingleSelect, FieldMultiSelect, FieldCheckbox:
		return true
	default:
		return false
	}
}

// Field is the schema of one column. TypeOption carries the JSON encoded
// options of its FieldType (NumberOption, DateOption or SelectOption).
type Field struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Desc       string          `json:"desc"`
	FieldType  FieldType       `json:"field_type"`
	Frozen     bool            `json:"frozen"`
	Visibility bool            `json:"visibility"`
	Width      int32           `json:"width"`
	TypeOption json.RawMessage `json:"type_option,omitempty"`
}

type NumberOption struct {
	Format string `json:"format"`
	Scale  int    `json:"scale"`
}

type DateOption struct {
	DateFormat  string `json:"date_format"`
	TimeFormat  string `json:"time_format"`
	IncludeTime bool   `json:"include_time"`
}

type SelectOption struct {
	Options []SelectOptionItem `json:"options"`
}

type SelectOptionItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DecodeOption decodes the field's type option into target. A field without
// options leaves target at its zero value.
func (f Field) DecodeOption(target any) error {
	if len(f.TypeOption) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.TypeOption, target); err != nil {
		return fmt.Errorf("decode %s type option of field %s: %w", f.FieldType, f.ID, err)
	}
	return nil
}

// marshalCanonical encodes without HTML escaping so payloads such as "<b>"
// keep their literal form in the canonical text.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
