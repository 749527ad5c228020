package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeSource struct {
	table Table
	err   error
}

func (f fakeSource) ExportTable(context.Context, string) (Table, error) {
	return f.table, f.err
}

type fakeSink struct {
	keys []string
}

func (f *fakeSink) Put(_ context.Context, key string, res *Result) (string, error) {
	f.keys = append(f.keys, key)
	return "https://objects.example/" + key, nil
}

func sampleTable() Table {
	return Table{
		GridID: "grid_1",
		Title:  "Q3 Budget",
		Columns: []Column{
			{ID: "f1", Name: "Item", Type: "rich_text"},
			{ID: "f2", Name: "Cost", Type: "number"},
		},
		Rows: []TableRow{
			{ID: "r1", Cells: []string{"Laptops, refurbished", "$1,200"}},
			{ID: "r2", Cells: []string{"<script>x</script>", ""}},
		},
	}
}

func newTestService(src DataSource, sink ObjectSink) *Service {
	s := NewService(src, sink)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestExportCSV(t *testing.T) {
	s := newTestService(fakeSource{table: sampleTable()}, nil)
	res, err := s.Export(context.Background(), Request{GridID: "grid_1", Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Q3-Budget.csv" || !strings.HasPrefix(res.MimeType, "text/csv") {
		t.Fatalf("filename=%q mime=%q", res.Filename, res.MimeType)
	}

	records, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %v", records)
	}
	if records[0][0] != "Item" || records[1][0] != "Laptops, refurbished" || records[1][1] != "$1,200" {
		t.Fatalf("records = %v", records)
	}
}

func TestExportHTMLEscapesCells(t *testing.T) {
	s := newTestService(fakeSource{table: sampleTable()}, nil)
	res, err := s.Export(context.Background(), Request{GridID: "grid_1", Format: FormatHTML, ExportedBy: "Ada"})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(res.Data)
	for _, want := range []string{"<h1>Q3 Budget</h1>", "<th class=\"field-number\">Cost</th>", "Ada", "May 1, 2024", "2 rows", "&lt;script&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<script>x") {
		t.Error("cell content rendered unescaped")
	}
}

func TestExportUploadsToSink(t *testing.T) {
	sink := &fakeSink{}
	s := newTestService(fakeSource{table: sampleTable()}, sink)
	res, err := s.Export(context.Background(), Request{GridID: "grid_1", Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "exports/grid_1/20240501T120000Z-Q3-Budget.csv"
	if len(sink.keys) != 1 || sink.keys[0] != wantKey {
		t.Fatalf("keys = %v", sink.keys)
	}
	if res.URL != "https://objects.example/"+wantKey {
		t.Fatalf("url = %q", res.URL)
	}
}

func TestExportErrors(t *testing.T) {
	boom := errors.New("boom")
	s := newTestService(fakeSource{err: boom}, nil)
	if _, err := s.Export(context.Background(), Request{Format: FormatCSV}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped source error", err)
	}

	s = newTestService(fakeSource{table: sampleTable()}, nil)
	if _, err := s.Export(context.Background(), Request{Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"html", FormatHTML, false},
		{"pdf", FormatPDF, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Budget v1.2", "Budget-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "grid"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			want := "data:text/html;charset=utf-8," + tt.expected
			if got := dataURL(tt.input); got != want {
				t.Errorf("dataURL(%q) = %q, want %q", tt.input, got, want)
			}
		})
	}
}
