// Package parsers converts staged files into ordered record streams. A
// parser is selected once per run from the configured file type; every
// implementation honors the same TableShape contract so the load strategy
// never cares which format produced a record.
package parsers

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Static errors
var (
	// ErrRow marks a malformed row (decode failure, wrong field count). The
	// caller counts these toward the file's partial-failure threshold instead
	// of aborting the file.
	ErrRow = errors.New("malformed row")

	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// TableShape describes the expected tabular layout of a feed and the
// destination table it lands in. ColumnNames order defines record field
// order everywhere downstream.
type TableShape struct {
	TableName   string
	ColumnNames []string
	Delimiter   string // raw delimiter, already normalized from config notation
	HasHeader   bool
	StartRow    int // 1-based first data row, bcp -F semantics
}

// Record is one parsed data row: one value per ColumnNames entry, in order.
// Missing optional fields are SQL NULLs.
type Record []sql.NullString

// RecordReader streams records from one opened file. It is restartable only
// by re-opening the file through the parser; Next is not resumable across
// readers.
type RecordReader interface {
	// Next returns the next record, io.EOF at end of input, or an error
	// wrapping ErrRow for a malformed row (the stream remains usable).
	Next() (Record, error)

	Close() error
}

// Parser opens a staged file as a record stream for a given shape.
type Parser interface {
	Open(path string, shape TableShape) (RecordReader, error)
}

// GetParser returns the parser for a configured file type.
func GetParser(fileType string) (Parser, error) {
	switch fileType {
	case "csv", "txt":
		return NewCSVParser(), nil
	case "json":
		return NewJSONParser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileType)
	}
}

// NormalizeLiteral resolves the mixed notations configs use for delimiters
// and row terminators into raw bytes: backslash escapes (`\t`, `\n`, `\r\n`),
// hex notation (`0x0A`, `0x0D0A`) and plain literal characters all become the
// characters they denote.
func NormalizeLiteral(s string) string {
	s = strings.Trim(s, `"`)

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if raw, err := hex.DecodeString(s[2:]); err == nil && len(raw) > 0 {
			return string(raw)
		}
	}

	replacer := strings.NewReplacer(
		`\t`, "\t",
		`\n`, "\n",
		`\r`, "\r",
		`\0`, "\x00",
	)
	return replacer.Replace(s)
}

// nullString wraps a present value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
