// Package export renders materialized grids as HTML, CSV or PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts a format name as sent by clients.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatHTML, FormatCSV, FormatPDF:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	GridID     string
	Format     Format
	ExportedBy string
}

// Column is one visible field of the grid.
type Column struct {
	ID   string
	Name string
	Type string
}

// TableRow holds a row's display strings in column order.
type TableRow struct {
	ID    string
	Cells []string
}

// Table is the materialized grid handed to the renderers.
type Table struct {
	GridID  string
	Title   string
	Columns []Column
	Rows    []TableRow
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// URL is set when the result was uploaded to object storage.
	URL string
}

var (
	// ErrUnsupportedFormat is returned for an unknown export format.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// TemplateData holds data for grid template rendering
type TemplateData struct {
	Title      string
	Columns    []Column
	Rows       []TableRow
	ExportedBy string
	ExportedAt time.Time
}
