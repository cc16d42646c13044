package loaders

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

// BatchRowOptions tunes the batched-insert strategy.
type BatchRowOptions struct {
	// BatchSize is the number of records per INSERT statement. SQL Server
	// caps statements at 2100 parameters, so BatchSize*columns must stay
	// under that.
	BatchSize int

	// MaxErrorRate is the tolerated fraction of malformed rows (0..1).
	// Strictly exceeding it at end of file turns the outcome into a
	// Failure instead of a PartialFailure.
	MaxErrorRate float64

	// BufferAll reads and scrubs the whole file before the first insert
	// instead of streaming batch by batch.
	BufferAll bool
}

// BatchRowLoader inserts records with multi-row INSERT statements, one
// transaction per batch. Committed batches stay committed when a later
// batch fails, so a mid-file failure yields a partial load.
type BatchRowLoader struct {
	db     *sql.DB
	driver string
	opts   BatchRowOptions
	parser parsers.Parser
	logger *slog.Logger
}

// NewBatchRowLoader creates a batched-insert loader for the given sink.
func NewBatchRowLoader(db *sql.DB, driver string, parser parsers.Parser, opts BatchRowOptions, logger *slog.Logger) *BatchRowLoader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	return &BatchRowLoader{
		db:     db,
		driver: driver,
		opts:   opts,
		parser: parser,
		logger: logger,
	}
}

func (l *BatchRowLoader) Load(ctx context.Context, file sources.StagedFile, shape parsers.TableShape) (Outcome, error) {
	start := time.Now()

	reader, err := l.parser.Open(file.LocalPath, shape)
	if err != nil {
		return failedOutcome(file.OriginalName, start, err), nil
	}
	defer reader.Close()

	var (
		batch      []parsers.Record
		rowNums    []int64 // source row per buffered record, BufferAll only
		rowsLoaded int64
		rowErrors  int64
		rowsSeen   int64
		batches    int
	)

	flush := func(firstRow, lastRow int64) (Outcome, bool) {
		if len(batch) == 0 {
			return Outcome{}, false
		}
		n, err := l.insertBatch(ctx, shape, batch)
		if err != nil {
			l.logger.Error(fmt.Sprintf("Batch %d insert into %s failed for %s: %v",
				batches+1, shape.TableName, file.OriginalName, err))
			status := StatusFailure
			if batches > 0 {
				// Earlier batches are committed, so the file is partially
				// loaded rather than untouched.
				status = StatusPartialFailure
			}
			return Outcome{
				File:        file.OriginalName,
				Status:      status,
				RowsLoaded:  rowsLoaded,
				RowErrors:   rowErrors,
				Duration:    time.Since(start),
				Err:         fmt.Errorf("%w: %v", ErrLoad, err),
				FailedFirst: firstRow,
				FailedLast:  lastRow,
			}, true
		}
		rowsLoaded += n
		batches++
		batch = batch[:0]
		return Outcome{}, false
	}

	batchFirstRow := int64(1)
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		rowsSeen++
		if err != nil {
			rowErrors++
			l.logger.Warn(fmt.Sprintf("Skipping malformed row %d in %s: %v", rowsSeen, file.OriginalName, err))
			continue
		}

		batch = append(batch, scrubRecord(record))
		if l.opts.BufferAll {
			rowNums = append(rowNums, rowsSeen)
		} else if len(batch) >= l.opts.BatchSize {
			if out, done := flush(batchFirstRow, rowsSeen); done {
				return out, nil
			}
			batchFirstRow = rowsSeen + 1
		}
	}

	if l.opts.BufferAll {
		// Whole file is buffered; emit it in batch-sized statements. The
		// failed range reports source rows, which drift from buffer
		// indexes when malformed rows were skipped.
		all := batch
		for i := 0; i < len(all); i += l.opts.BatchSize {
			end := i + l.opts.BatchSize
			if end > len(all) {
				end = len(all)
			}
			batch = all[i:end]
			if out, done := flush(rowNums[i], rowNums[end-1]); done {
				return out, nil
			}
		}
		batch = nil
	} else if out, done := flush(batchFirstRow, rowsSeen); done {
		return out, nil
	}

	status := StatusSuccess
	if rowErrors > 0 {
		status = StatusPartialFailure
		if rowsSeen > 0 && float64(rowErrors)/float64(rowsSeen) > l.opts.MaxErrorRate {
			status = StatusFailure
		}
	}

	out := Outcome{
		File:       file.OriginalName,
		Status:     status,
		RowsLoaded: rowsLoaded,
		RowErrors:  rowErrors,
		Duration:   time.Since(start),
	}
	if status == StatusFailure {
		out.Err = fmt.Errorf("%w: error rate %.2f%% exceeds limit", ErrLoad,
			100*float64(rowErrors)/float64(rowsSeen))
	}
	return out, nil
}

// insertBatch writes one multi-row INSERT inside its own transaction and
// returns the number of rows inserted.
func (l *BatchRowLoader) insertBatch(ctx context.Context, shape parsers.TableShape, batch []parsers.Record) (int64, error) {
	query, args := l.buildInsert(shape, batch)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit failed: %w", err)
	}
	return int64(len(batch)), nil
}

// buildInsert renders the multi-row INSERT and its flattened argument list.
func (l *BatchRowLoader) buildInsert(shape parsers.TableShape, batch []parsers.Record) (string, []interface{}) {
	columns := make([]string, len(shape.ColumnNames))
	for i, col := range shape.ColumnNames {
		columns[i] = quoteIdent(l.driver, col)
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(batch)*len(columns))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteIdent(l.driver, shape.TableName))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	n := 1
	for i, record := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, value := range record {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder(l.driver, n))
			n++
			args = append(args, value)
		}
		sb.WriteString(")")
	}

	return sb.String(), args
}

// scrubRecord normalizes feed conventions that the sink should not see:
// accounting-style negatives "(N)" become "-N", and the bare dash and
// "<NA>" placeholders become SQL NULL.
func scrubRecord(record parsers.Record) parsers.Record {
	for i, v := range record {
		if !v.Valid {
			continue
		}
		s := strings.TrimSpace(v.String)
		switch {
		case s == "-" || s == "<NA>":
			record[i] = sql.NullString{}
		case len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')' && isNumeric(s[1:len(s)-1]):
			record[i] = sql.NullString{String: "-" + s[1:len(s)-1], Valid: true}
		}
	}
	return record
}

func isNumeric(s string) bool {
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot:
			dot = true
		case r == ',':
		default:
			return false
		}
	}
	return len(s) > 0
}
