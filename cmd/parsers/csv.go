package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// CSVParser reads delimited text feeds (csv and txt file types share it).
type CSVParser struct{}

// NewCSVParser creates a new delimited-text parser
func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Open opens the file and positions the stream at the first data row.
func (p *CSVParser) Open(path string, shape TableShape) (RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // field-count errors are per-row, not fatal
	reader.LazyQuotes = true
	if d := NormalizeLiteral(shape.Delimiter); d != "" {
		reader.Comma = rune(d[0])
	}

	r := &csvReader{
		reader: reader,
		closer: f,
		want:   len(shape.ColumnNames),
	}

	// StartRow is 1-based; everything before it (header included) is
	// consumed and discarded before the first Next call.
	skip := shape.StartRow - 1
	if skip < 0 {
		skip = 0
	}
	if shape.HasHeader && skip == 0 {
		skip = 1
	}
	for i := 0; i < skip; i++ {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				break
			}
			f.Close()
			return nil, fmt.Errorf("failed to skip row %d of %s: %w", i+1, path, err)
		}
	}

	return r, nil
}

type csvReader struct {
	reader *csv.Reader
	closer io.Closer
	want   int
	row    int
}

// Next returns the next data record. A row with the wrong field count is
// reported as an ErrRow but the stream stays readable.
func (r *csvReader) Next() (Record, error) {
	fields, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.row++
	if err != nil {
		return nil, fmt.Errorf("%w: row %d: %v", ErrRow, r.row, err)
	}
	if len(fields) != r.want {
		return nil, fmt.Errorf("%w: row %d has %d fields, expected %d", ErrRow, r.row, len(fields), r.want)
	}

	record := make(Record, len(fields))
	for i, value := range fields {
		record[i] = nullString(value)
	}
	return record, nil
}

func (r *csvReader) Close() error {
	return r.closer.Close()
}

// ReadHeader returns the header row of a delimited file without consuming
// the parser stream. Used to derive column names when the config leaves
// them implicit and the feed carries its own header.
func ReadHeader(path string, delimiter string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	if d := NormalizeLiteral(delimiter); d != "" {
		reader.Comma = rune(d[0])
	}

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return header, nil
}
