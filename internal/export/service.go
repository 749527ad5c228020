package export

import (
	"context"
	"fmt"
	"time"
)

// DataSource materializes a grid into a table of display strings.
type DataSource interface {
	ExportTable(ctx context.Context, gridID string) (Table, error)
}

// Service provides grid export functionality
type Service struct {
	source DataSource
	sink   ObjectSink
	now    func() time.Time
}

// NewService creates a new export service. sink may be nil, in which case
// results are only returned inline.
func NewService(source DataSource, sink ObjectSink) *Service {
	return &Service{source: source, sink: sink, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	table, err := s.source.ExportTable(ctx, req.GridID)
	if err != nil {
		return nil, fmt.Errorf("load grid: %w", err)
	}

	var res *Result
	switch req.Format {
	case FormatCSV:
		res, err = exportCSV(table)
	case FormatHTML, FormatPDF:
		html, renderErr := RenderGridHTML(TemplateData{
			Title:      table.Title,
			Columns:    table.Columns,
			Rows:       table.Rows,
			ExportedBy: req.ExportedBy,
			ExportedAt: s.now(),
		})
		if renderErr != nil {
			return nil, fmt.Errorf("render template: %w", renderErr)
		}
		if req.Format == FormatPDF {
			res, err = exportPDF(ctx, html, table.Title)
		} else {
			res = &Result{
				Data:     []byte(html),
				Filename: sanitizeFilename(table.Title) + ".html",
				MimeType: "text/html; charset=utf-8",
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		u, err := s.sink.Put(ctx, objectKey(table.GridID, s.now(), res.Filename), res)
		if err != nil {
			return nil, err
		}
		res.URL = u
	}
	return res, nil
}
