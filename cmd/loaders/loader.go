// Package loaders moves parsed feeds into the destination table. Two
// strategies exist: shelling out to the bcp utility for native bulk copy,
// and batched multi-row inserts over database/sql. Both report the same
// Outcome so the pipeline treats them interchangeably.
package loaders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

// Static errors
var (
	ErrLoad              = errors.New("load failed")
	ErrUnsupportedLoader = errors.New("unsupported import method")
)

// Status is the terminal disposition of one file.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialFailure Status = "PartialFailure"
	StatusFailure        Status = "Failure"
	StatusSkipped        Status = "Skipped"
)

// Outcome records what happened to one file.
type Outcome struct {
	File       string
	Status     Status
	RowsLoaded int64
	RowErrors  int64
	Duration   time.Duration
	Err        error

	// FailedFirst/FailedLast bound the record range that was not loaded
	// when a batch aborted mid-file. Zero when no range applies.
	FailedFirst int64
	FailedLast  int64
}

// Loader loads one staged file into the table described by shape. Load
// returns an error only for run-level conditions (context cancellation);
// per-file failures are reported through Outcome.Status and Outcome.Err.
type Loader interface {
	Load(ctx context.Context, file sources.StagedFile, shape parsers.TableShape) (Outcome, error)
}

// quoteIdent quotes an identifier for the sink's dialect. SQL Server uses
// bracket quoting, PostgreSQL double quotes.
func quoteIdent(driver, name string) string {
	if driver == "mssql" || driver == "sqlserver" {
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return pq.QuoteIdentifier(name)
}

// placeholder returns the dialect's positional parameter marker, 1-based.
func placeholder(driver string, n int) string {
	if driver == "mssql" || driver == "sqlserver" {
		return fmt.Sprintf("@p%d", n)
	}
	return fmt.Sprintf("$%d", n)
}

func failedOutcome(file string, start time.Time, err error) Outcome {
	return Outcome{
		File:     file,
		Status:   StatusFailure,
		Duration: time.Since(start),
		Err:      fmt.Errorf("%w: %v", ErrLoad, err),
	}
}
