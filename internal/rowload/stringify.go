package rowload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gridsync/api/internal/model"
)

var ErrCellData = errors.New("invalid cell data")

var dateLayouts = map[string]string{
	"":         "2006/01/02",
	"local":    "2006/01/02",
	"us":       "01/02/2006",
	"iso":      "2006-01-02",
	"friendly": "Jan 02, 2006",
}

var timeLayouts = map[string]string{
	"":   "15:04",
	"24": "15:04",
	"12": "03:04 PM",
}

// Stringify renders a stored cell payload for display according to the type
// of its field.
func Stringify(field model.Field, cell model.CellMeta) (string, error) {
	var (
		content string
		err     error
	)
	switch field.FieldType {
	case model.FieldRichText, "":
		content = cell.Data
	case model.FieldNumber:
		content, err = stringifyNumber(field, cell.Data)
	case model.FieldDateTime:
		content, err = stringifyDate(field, cell.Data)
	case model.FieldCheckbox:
		content = stringifyCheckbox(cell.Data)
	case model.FieldSingleSelect, model.FieldMultiSelect:
		content, err = stringifySelect(field, cell.Data)
	default:
		err = fmt.Errorf("%w: unsupported field type %q", ErrCellData, field.FieldType)
	}
	if err != nil {
		return "", fmt.Errorf("stringify field %s: %w", field.ID, err)
	}
	return content, nil
}

func stringifyNumber(field model.Field, data string) (string, error) {
	if strings.TrimSpace(data) == "" {
		return "", nil
	}
	var option model.NumberOption
	if err := field.DecodeOption(&option); err != nil {
		return "", err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(data), 64)
	if err != nil {
		return "", fmt.Errorf("%w: number %q", ErrCellData, data)
	}
	scale := max(option.Scale, 0)
	switch option.Format {
	case "", "num":
		return strconv.FormatFloat(value, 'f', scale, 64), nil
	case "usd":
		return currency("$", value, scale), nil
	case "eur":
		return currency("€", value, scale), nil
	case "percent":
		return strconv.FormatFloat(value, 'f', scale, 64) + "%", nil
	default:
		return "", fmt.Errorf("%w: number format %q", ErrCellData, option.Format)
	}
}

func currency(symbol string, value float64, scale int) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	formatted := humanize.CommafWithDigits(value, scale)
	if scale > 0 {
		whole, frac, _ := strings.Cut(formatted, ".")
		formatted = whole + "." + frac + strings.Repeat("0", scale-len(frac))
	}
	return sign + symbol + formatted
}

func stringifyDate(field model.Field, data string) (string, error) {
	if strings.TrimSpace(data) == "" {
		return "", nil
	}
	var option model.DateOption
	if err := field.DecodeOption(&option); err != nil {
		return "", err
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: timestamp %q", ErrCellData, data)
	}
	layout, ok := dateLayouts[option.DateFormat]
	if !ok {
		return "", fmt.Errorf("%w: date format %q", ErrCellData, option.DateFormat)
	}
	if option.IncludeTime {
		timeLayout, ok := timeLayouts[option.TimeFormat]
		if !ok {
			return "", fmt.Errorf("%w: time format %q", ErrCellData, option.TimeFormat)
		}
		layout += " " + timeLayout
	}
	return time.Unix(seconds, 0).UTC().Format(layout), nil
}

func stringifyCheckbox(data string) string {
	switch strings.ToLower(strings.TrimSpace(data)) {
	case "1", "true", "yes":
		return "Yes"
	default:
		return "No"
	}
}

// Select payloads are comma separated option ids. Ids no longer present in
// the field's options are skipped.
func stringifySelect(field model.Field, data string) (string, error) {
	var option model.SelectOption
	if err := field.DecodeOption(&option); err != nil {
		return "", err
	}
	nameByID := make(map[string]string, len(option.Options))
	for _, item := range option.Options {
		nameByID[item.ID] = item.Name
	}
	var names []string
	for _, id := range strings.Split(data, ",") {
		id = strings.TrimSpace(id)
		if name, ok := nameByID[id]; ok && id != "" {
			names = append(names, name)
		}
	}
	if field.FieldType == model.FieldSingleSelect && len(names) > 1 {
		names = names[:1]
	}
	return strings.Join(names, ", "), nil
}
