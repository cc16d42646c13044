package parsers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// JSONParser reads JSON feeds. Two layouts occur in practice: a top-level
// array of objects, and a top-level object whose values are the row
// objects (keyed by an id the feed does not repeat inside the row). Both
// are flattened to records in the declared column order; object-keyed
// rows are emitted in sorted key order so runs stay deterministic.
type JSONParser struct{}

// NewJSONParser creates a new JSON parser
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

func (p *JSONParser) Open(path string, shape TableShape) (RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	dec := json.NewDecoder(f)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%s: top-level value is not an array or object", path)
	}

	switch delim {
	case '[':
		return &jsonArrayReader{dec: dec, closer: f, columns: shape.ColumnNames}, nil
	case '{':
		// Object-of-objects cannot stream usefully because emission order
		// is sorted, so the whole document is buffered up front.
		rows, err := readObjectRows(dec)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		f.Close()
		return &jsonBufferedReader{rows: rows, columns: shape.ColumnNames}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("%s: unexpected top-level token %v", path, delim)
	}
}

// jsonArrayReader streams a top-level array of row objects.
type jsonArrayReader struct {
	dec     *json.Decoder
	closer  io.Closer
	columns []string
	row     int
}

func (r *jsonArrayReader) Next() (Record, error) {
	if !r.dec.More() {
		return nil, io.EOF
	}
	r.row++

	var obj map[string]json.RawMessage
	if err := r.dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: row %d: %v", ErrRow, r.row, err)
	}
	return objectToRecord(obj, r.columns, r.row)
}

func (r *jsonArrayReader) Close() error {
	return r.closer.Close()
}

// jsonBufferedReader replays pre-decoded rows from an object-keyed feed.
type jsonBufferedReader struct {
	rows    []map[string]json.RawMessage
	columns []string
	pos     int
}

func (r *jsonBufferedReader) Next() (Record, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	obj := r.rows[r.pos]
	r.pos++
	return objectToRecord(obj, r.columns, r.pos)
}

func (r *jsonBufferedReader) Close() error {
	return nil
}

func readObjectRows(dec *json.Decoder) ([]map[string]json.RawMessage, error) {
	byKey := map[string]map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key token %v", tok)
		}

		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("row %q: %w", key, err)
		}
		byKey[key] = obj
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]map[string]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, byKey[k])
	}
	return rows, nil
}

// objectToRecord projects a decoded object onto the declared columns.
// A column missing from the object becomes SQL NULL.
func objectToRecord(obj map[string]json.RawMessage, columns []string, row int) (Record, error) {
	record := make(Record, len(columns))
	for i, col := range columns {
		raw, ok := obj[col]
		if !ok {
			record[i] = sql.NullString{}
			continue
		}
		value, err := scalarString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d column %s: %v", ErrRow, row, col, err)
		}
		record[i] = value
	}
	return record, nil
}

// scalarString renders one JSON value as its load representation. Numbers
// keep their source text, booleans become true/false, null becomes SQL
// NULL, and nested structures are re-serialized as compact JSON.
func scalarString(raw json.RawMessage) (sql.NullString, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return sql.NullString{}, err
	}

	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return nullString(t), nil
	case json.Number:
		return nullString(t.String()), nil
	case bool:
		return nullString(strconv.FormatBool(t)), nil
	default:
		compact, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, err
		}
		return nullString(string(compact)), nil
	}
}
