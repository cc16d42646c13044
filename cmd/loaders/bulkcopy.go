package loaders

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

// BulkCopyOptions configures the external bcp invocation. Only SQL Server
// sinks support this strategy.
type BulkCopyOptions struct {
	Server        string
	Database      string
	Schema        string // dbo when empty
	Username      string
	Password      string
	RowTerminator string
	BatchSize     int
	MaxErrors     int
	ErrorFile     string // bcp -e target, diagnostics land here verbatim

	// UseView loads through the table's companion view so the identity
	// column stays out of the column list bcp sees.
	UseView bool
}

// BulkCopyLoader shells out to the bcp utility. The child process owns the
// parse-and-insert work; this loader builds the argument list, runs it and
// interprets the "N rows copied." report.
type BulkCopyLoader struct {
	opts   BulkCopyOptions
	logger *slog.Logger

	// runCommand is swapped in tests to avoid requiring the bcp binary.
	runCommand func(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
}

var rowsCopiedRe = regexp.MustCompile(`(\d+) rows copied`)

// NewBulkCopyLoader creates a bcp-backed loader.
func NewBulkCopyLoader(opts BulkCopyOptions, logger *slog.Logger) *BulkCopyLoader {
	return &BulkCopyLoader{
		opts:       opts,
		logger:     logger,
		runCommand: runBCP,
	}
}

func (l *BulkCopyLoader) Load(ctx context.Context, file sources.StagedFile, shape parsers.TableShape) (Outcome, error) {
	start := time.Now()

	args := l.buildArgs(file.LocalPath, shape)
	l.logger.Debug(fmt.Sprintf("Running bcp for %s into %s", file.OriginalName, args[0]))

	stdout, stderr, err := l.runCommand(ctx, "bcp", args)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	if err != nil {
		// bcp's diagnostic text goes to the error log unmodified
		l.logger.Error(fmt.Sprintf("bcp failed for %s into %s: %v", file.OriginalName, shape.TableName, err))
		if out := strings.TrimSpace(stdout); out != "" {
			l.logger.Error(out)
		}
		if errOut := strings.TrimSpace(stderr); errOut != "" {
			l.logger.Error(errOut)
		}
		return failedOutcome(file.OriginalName, start, fmt.Errorf("bcp: %v", err)), nil
	}

	rows := parseRowsCopied(stdout)
	l.logger.Info(fmt.Sprintf("bcp loaded %d row(s) from %s into %s", rows, file.OriginalName, shape.TableName))

	return Outcome{
		File:       file.OriginalName,
		Status:     StatusSuccess,
		RowsLoaded: rows,
		Duration:   time.Since(start),
	}, nil
}

// buildArgs renders the bcp argument list. The first element is the
// fully-qualified target object.
func (l *BulkCopyLoader) buildArgs(dataFile string, shape parsers.TableShape) []string {
	schema := l.opts.Schema
	if schema == "" {
		schema = "dbo"
	}
	object := shape.TableName
	if l.opts.UseView {
		object = shape.TableName + "_View"
	}
	target := fmt.Sprintf("%s.%s.%s", l.opts.Database, schema, object)

	args := []string{
		target,
		"in", dataFile,
		"-S", l.opts.Server,
	}
	if l.opts.Username != "" {
		args = append(args, "-U", l.opts.Username, "-P", l.opts.Password)
	} else {
		// No SQL login configured means Windows trusted connection
		args = append(args, "-T")
	}
	args = append(args,
		"-c",
		"-t", parsers.NormalizeLiteral(shape.Delimiter),
	)
	if l.opts.RowTerminator != "" {
		args = append(args, "-r", parsers.NormalizeLiteral(l.opts.RowTerminator))
	}

	// bcp -F is 1-based and must point past any header row.
	firstRow := shape.StartRow
	if firstRow < 1 {
		firstRow = 1
	}
	if shape.HasHeader && firstRow == 1 {
		firstRow = 2
	}
	args = append(args, "-F", strconv.Itoa(firstRow))

	if l.opts.BatchSize > 0 {
		args = append(args, "-b", strconv.Itoa(l.opts.BatchSize))
	}
	if l.opts.MaxErrors > 0 {
		args = append(args, "-m", strconv.Itoa(l.opts.MaxErrors))
	}
	if l.opts.ErrorFile != "" {
		args = append(args, "-e", l.opts.ErrorFile)
	}
	return args
}

func runBCP(ctx context.Context, name string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	return stdoutBuf.String(), stderrBuf.String(), err
}

// parseRowsCopied extracts the row count from bcp's completion report.
func parseRowsCopied(stdout string) int64 {
	m := rowsCopiedRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
