package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

func exportCSV(table Table) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range table.Rows {
		if err := w.Write(row.Cells); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", row.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(table.Title) + ".csv",
		MimeType: "text/csv; charset=utf-8",
	}, nil
}
