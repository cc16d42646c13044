package loaders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stageFile(t *testing.T, name, content string) sources.StagedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return sources.StagedFile{OriginalName: name, LocalPath: path}
}

func newMockLoader(t *testing.T, opts BatchRowOptions) (*BatchRowLoader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBatchRowLoader(db, "postgres", parsers.NewCSVParser(), opts, testLogger()), mock
}

func csvShape() parsers.TableShape {
	return parsers.TableShape{
		TableName:   "items",
		ColumnNames: []string{"id", "name"},
		Delimiter:   ",",
	}
}

func TestBatchRowLoadSuccess(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 2})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta\n3,gamma\n")

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Errorf("expected Success, got %s (%v)", out.Status, out.Err)
	}
	if out.RowsLoaded != 3 {
		t.Errorf("expected 3 rows loaded, got %d", out.RowsLoaded)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBatchRowLoadSecondBatchFailureIsPartial(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 2})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta\n3,gamma\n")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusPartialFailure {
		t.Errorf("expected PartialFailure, got %s", out.Status)
	}
	if out.RowsLoaded != 2 {
		t.Errorf("expected 2 committed rows, got %d", out.RowsLoaded)
	}
	if !errors.Is(out.Err, ErrLoad) {
		t.Errorf("outcome error should wrap ErrLoad, got %v", out.Err)
	}
	if out.FailedFirst != 3 || out.FailedLast != 3 {
		t.Errorf("expected failed range [3,3], got [%d,%d]", out.FailedFirst, out.FailedLast)
	}
}

func TestBatchRowLoadFirstBatchFailureIsFailure(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 10})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta\n")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("relation missing"))
	mock.ExpectRollback()

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusFailure {
		t.Errorf("expected Failure, got %s", out.Status)
	}
	if out.RowsLoaded != 0 {
		t.Errorf("expected 0 rows loaded, got %d", out.RowsLoaded)
	}
}

func TestBatchRowLoadRowErrorsWithinThreshold(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 10, MaxErrorRate: 0.5})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta,extra\n3,gamma\n")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusPartialFailure {
		t.Errorf("expected PartialFailure, got %s", out.Status)
	}
	if out.RowsLoaded != 2 || out.RowErrors != 1 {
		t.Errorf("expected 2 loaded and 1 row error, got %d and %d", out.RowsLoaded, out.RowErrors)
	}
}

func TestBatchRowLoadRowErrorsOverThreshold(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 10, MaxErrorRate: 0.1})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta,extra\n3,gamma,extra\n4,delta\n")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusFailure {
		t.Errorf("expected Failure when error rate exceeds limit, got %s", out.Status)
	}
}

func TestBatchRowLoadBufferAll(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 2, BufferAll: true})
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta\n3,gamma\n")

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusSuccess || out.RowsLoaded != 3 {
		t.Errorf("expected Success with 3 rows, got %s with %d", out.Status, out.RowsLoaded)
	}
}

func TestBatchRowLoadBufferAllFailedRangeUsesSourceRows(t *testing.T) {
	loader, mock := newMockLoader(t, BatchRowOptions{BatchSize: 2, BufferAll: true, MaxErrorRate: 0.5})
	// Row 2 is malformed and skipped, so the buffer holds source rows
	// 1, 3, 4, 5; the second batch carries rows 4 and 5.
	file := stageFile(t, "feed.csv", "1,alpha\n2,beta,extra\n3,gamma\n4,delta\n5,epsilon\n")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	out, err := loader.Load(context.Background(), file, csvShape())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Status != StatusPartialFailure {
		t.Errorf("expected PartialFailure, got %s", out.Status)
	}
	if out.FailedFirst != 4 || out.FailedLast != 5 {
		t.Errorf("expected failed range [4,5], got [%d,%d]", out.FailedFirst, out.FailedLast)
	}
}

func TestBuildInsertPlaceholders(t *testing.T) {
	record := parsers.Record{
		{String: "1", Valid: true},
		{String: "alpha", Valid: true},
	}

	pg := &BatchRowLoader{driver: "postgres"}
	query, args := pg.buildInsert(csvShape(), []parsers.Record{record, record})
	if !strings.Contains(query, `INSERT INTO "items" ("id", "name")`) {
		t.Errorf("unexpected postgres query: %s", query)
	}
	if !strings.Contains(query, "($1, $2), ($3, $4)") {
		t.Errorf("unexpected postgres placeholders: %s", query)
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d", len(args))
	}

	ms := &BatchRowLoader{driver: "mssql"}
	query, _ = ms.buildInsert(csvShape(), []parsers.Record{record})
	if !strings.Contains(query, "INSERT INTO [items] ([id], [name])") {
		t.Errorf("unexpected mssql query: %s", query)
	}
	if !strings.Contains(query, "(@p1, @p2)") {
		t.Errorf("unexpected mssql placeholders: %s", query)
	}
}

func TestScrubRecord(t *testing.T) {
	record := parsers.Record{
		{String: "(123.45)", Valid: true},
		{String: "-", Valid: true},
		{String: "<NA>", Valid: true},
		{String: "plain", Valid: true},
		{String: "(not numeric)", Valid: true},
	}

	got := scrubRecord(record)
	if got[0].String != "-123.45" {
		t.Errorf("accounting negative: got %q", got[0].String)
	}
	if got[1].Valid || got[2].Valid {
		t.Error("dash and <NA> placeholders should become NULL")
	}
	if got[3].String != "plain" {
		t.Errorf("plain value changed: %q", got[3].String)
	}
	if got[4].String != "(not numeric)" {
		t.Errorf("non-numeric parenthetical changed: %q", got[4].String)
	}
}
