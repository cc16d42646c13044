package parsers

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func readAll(t *testing.T, r RecordReader) ([]Record, int) {
	t.Helper()
	var records []Record
	rowErrors := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, rowErrors
		}
		if err != nil {
			if !errors.Is(err, ErrRow) {
				t.Fatalf("unexpected error: %v", err)
			}
			rowErrors++
			continue
		}
		records = append(records, rec)
	}
}

func TestNormalizeLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`\t`, "\t"},
		{`\n`, "\n"},
		{`\r\n`, "\r\n"},
		{"0x09", "\t"},
		{"0x0D0A", "\r\n"},
		{"|", "|"},
		{`"|"`, "|"},
		{",", ","},
	}

	for _, tt := range tests {
		if got := NormalizeLiteral(tt.in); got != tt.want {
			t.Errorf("NormalizeLiteral(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetParser(t *testing.T) {
	for _, fileType := range []string{"csv", "txt", "json"} {
		if _, err := GetParser(fileType); err != nil {
			t.Errorf("GetParser(%q) returned error: %v", fileType, err)
		}
	}

	if _, err := GetParser("xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for xml, got %v", err)
	}
}

func TestCSVParserWithHeader(t *testing.T) {
	path := writeFile(t, "feed.csv", "id,name\n1,alpha\n2,beta\n")
	shape := TableShape{
		ColumnNames: []string{"id", "name"},
		Delimiter:   ",",
		HasHeader:   true,
	}

	parser := NewCSVParser()
	reader, err := parser.Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, rowErrors := readAll(t, reader)
	if rowErrors != 0 {
		t.Errorf("expected 0 row errors, got %d", rowErrors)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0][1].String != "alpha" || records[1][0].String != "2" {
		t.Errorf("unexpected record contents: %v", records)
	}
}

func TestCSVParserStartRowSkipsLeadingRows(t *testing.T) {
	path := writeFile(t, "feed.txt", "junk line one\nid|name\n1|alpha\n")
	shape := TableShape{
		ColumnNames: []string{"id", "name"},
		Delimiter:   "|",
		StartRow:    3,
	}

	reader, err := NewCSVParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, _ := readAll(t, reader)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0][1].String != "alpha" {
		t.Errorf("unexpected record: %v", records[0])
	}
}

func TestCSVParserTabDelimiterNotation(t *testing.T) {
	path := writeFile(t, "feed.txt", "1\talpha\n2\tbeta\n")
	shape := TableShape{
		ColumnNames: []string{"id", "name"},
		Delimiter:   `\t`,
	}

	reader, err := NewCSVParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, _ := readAll(t, reader)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestCSVParserFieldCountMismatchIsRowError(t *testing.T) {
	path := writeFile(t, "feed.csv", "1,alpha\n2,beta,extra\n3,gamma\n")
	shape := TableShape{
		ColumnNames: []string{"id", "name"},
		Delimiter:   ",",
	}

	reader, err := NewCSVParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, rowErrors := readAll(t, reader)
	if rowErrors != 1 {
		t.Errorf("expected 1 row error, got %d", rowErrors)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 good records after a bad row, got %d", len(records))
	}
}

func TestReadHeader(t *testing.T) {
	path := writeFile(t, "feed.csv", "id,name,price\n1,alpha,2.5\n")
	header, err := ReadHeader(path, ",")
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	want := []string{"id", "name", "price"}
	if len(header) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(header))
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("column %d: got %q, want %q", i, header[i], want[i])
		}
	}
}

func TestJSONParserArrayOfObjects(t *testing.T) {
	path := writeFile(t, "feed.json", `[
		{"id": 1, "name": "alpha", "active": true},
		{"id": 2, "name": null},
		{"name": "gamma", "id": 3}
	]`)
	shape := TableShape{ColumnNames: []string{"id", "name", "active"}}

	reader, err := NewJSONParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, rowErrors := readAll(t, reader)
	if rowErrors != 0 {
		t.Errorf("expected 0 row errors, got %d", rowErrors)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0][0].String != "1" || records[0][2].String != "true" {
		t.Errorf("unexpected first record: %v", records[0])
	}
	if records[1][1].Valid {
		t.Error("explicit null should produce SQL NULL")
	}
	if records[2][2].Valid {
		t.Error("missing field should produce SQL NULL")
	}
}

func TestJSONParserObjectKeyedRowsSortedOrder(t *testing.T) {
	path := writeFile(t, "feed.json", `{
		"b": {"id": 2, "name": "beta"},
		"a": {"id": 1, "name": "alpha"}
	}`)
	shape := TableShape{ColumnNames: []string{"id", "name"}}

	reader, err := NewJSONParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, _ := readAll(t, reader)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0][1].String != "alpha" || records[1][1].String != "beta" {
		t.Errorf("rows not in sorted key order: %v", records)
	}
}

func TestJSONParserRejectsScalarTopLevel(t *testing.T) {
	path := writeFile(t, "feed.json", `"just a string"`)
	_, err := NewJSONParser().Open(path, TableShape{ColumnNames: []string{"id"}})
	if err == nil {
		t.Fatal("expected error for scalar top-level value")
	}
}

func TestJSONParserNestedValueSerializedCompact(t *testing.T) {
	path := writeFile(t, "feed.json", `[{"id": 1, "meta": {"k": "v"}}]`)
	shape := TableShape{ColumnNames: []string{"id", "meta"}}

	reader, err := NewJSONParser().Open(path, shape)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	records, _ := readAll(t, reader)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0][1].String != `{"k":"v"}` {
		t.Errorf("nested value not compact JSON: %q", records[0][1].String)
	}
}
