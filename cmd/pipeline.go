package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/loaders"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/packagers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/sources"
)

// Static errors for run-level failures. File-level failures never reach
// these; they are captured in the per-file outcome instead.
var (
	ErrListing = errors.New("source listing failed")
	ErrInit    = errors.New("pipeline initialization failed")
)

// State names the orchestrator's position in the run. Per-file states
// repeat once per matched file.
type State string

const (
	StateInit        State = "Init"
	StateListing     State = "Listing"
	StateFetching    State = "Fetching"
	StateExpanding   State = "Expanding"
	StateLoading     State = "Loading"
	StateFinalizing  State = "Finalizing"
	StateSummarizing State = "Summarizing"
	StateDone        State = "Done"
)

// progressEvent is pushed to the TUI (when one is attached) as the run
// moves through its states.
type progressEvent struct {
	state     State
	file      string
	fileIndex int
	fileCount int
}

// Pipeline drives one run end to end: Init → Listing → per-file
// Fetching/Expanding/Loading/Finalizing → Summarizing → Done. All
// strategy choices (source kind, parser, loader) are resolved once at
// Init and held for the whole run.
type Pipeline struct {
	config *Config
	logger *slog.Logger

	// Injection points for tests; nil means build from config at Init
	resolver  SecretResolver
	source    sources.Source
	db        *sql.DB
	loader    loaders.Loader
	notifier  *Notifier
	eventSink func(progressEvent)

	state     State
	startedAt time.Time
}

func NewPipeline(config *Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		config: config,
		logger: logger,
		state:  StateInit,
	}
}

// SetEventSink attaches a progress consumer. Must be called before Run.
func (p *Pipeline) SetEventSink(sink func(progressEvent)) {
	p.eventSink = sink
}

func (p *Pipeline) setState(state State, file string, index, count int) {
	p.state = state
	if p.eventSink != nil {
		p.eventSink(progressEvent{state: state, file: file, fileIndex: index, fileCount: count})
	}
	// Best-effort task file for external observers
	_ = WriteTaskInfo(&TaskInfo{
		PID:            os.Getpid(),
		StartTime:      p.startedAt,
		Table:          p.config.Database.TableName,
		CurrentState:   string(state),
		CurrentFile:    file,
		TotalFiles:     count,
		CompletedFiles: index,
	})
}

// Run executes one pipeline run. The returned error is non-nil only for
// run-level failures (credentials, unreachable source, cancellation);
// per-file failures are carried in the summary.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	summary := newRunSummary()
	p.startedAt = summary.StartedAt

	p.setState(StateInit, "", 0, 0)

	resolver := p.resolver
	if resolver == nil {
		var err error
		resolver, err = newSecretResolver(p.config.Secrets)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
	}

	// Sink connection is acquired once per run and released on every exit
	// path, before the notification step runs.
	if p.db == nil {
		sqlPassword, err := resolver.Get(ctx, secretSQLPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
		db, err := openSink(p.config.Database, sqlPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
		p.db = db
	}
	defer p.closeSink()

	if err := p.prepareStaging(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}

	if p.source == nil {
		source, err := p.buildSource(ctx, resolver)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
		p.source = source
	}
	defer p.source.Close()

	parser, err := parsers.GetParser(p.config.ETL.FileType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}

	if p.loader == nil {
		loader, err := p.buildLoader(ctx, resolver, parser)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
		p.loader = loader
	}

	if p.notifier == nil && p.config.Email.Enabled {
		smtpPassword, err := resolver.Get(ctx, secretSMTPPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInit, err)
		}
		p.notifier = NewNotifier(p.config.Email, smtpPassword, p.logger)
	}

	// Listing
	p.setState(StateListing, "", 0, 0)
	selector := sources.Selector{
		Name:       p.config.ETL.FileName,
		Prefix:     p.config.ETL.FilePrefix,
		Suffix:     p.config.ETL.FileSuffix,
		Extensions: p.config.ETL.FileExtensions,
	}
	refs, err := p.source.List(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}
	p.logger.Info(fmt.Sprintf("Matched %d file(s) from %s source", len(refs), p.source.Kind()))

	shape := parsers.TableShape{
		TableName:   p.config.Database.TableName,
		ColumnNames: p.config.ETL.ColumnNames,
		Delimiter:   p.config.ETL.FieldDelimiter,
		HasHeader:   p.config.ETL.FileHasHeader,
		StartRow:    p.config.ETL.RowStart,
	}

	schema := NewSchemaManager(p.db, p.config.Database.Type, p.logger)
	schemaEnsured := false

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Fetching (NotFound is retried once, then the file is skipped)
		p.setState(StateFetching, ref.Name, i, len(refs))
		staged, fetchErr := p.fetchWithRetry(ctx, ref)
		if fetchErr != nil {
			if errors.Is(fetchErr, sources.ErrNotFound) {
				p.logger.Warn(fmt.Sprintf("File %s vanished between listing and fetch, skipping", ref.Name))
				summary.Add(loaders.Outcome{
					File:   ref.Name,
					Status: loaders.StatusSkipped,
					Err:    fetchErr,
				})
				continue
			}
			p.logger.Error(fmt.Sprintf("Failed to fetch %s: %v", ref.Name, fetchErr))
			summary.Add(loaders.Outcome{
				File:   ref.Name,
				Status: loaders.StatusFailure,
				Err:    fetchErr,
			})
			continue
		}

		// Expanding
		p.setState(StateExpanding, ref.Name, i, len(refs))
		expanded, expandErr := packagers.Expand(staged, p.config.ETL.DownloadPath)
		if expandErr != nil {
			p.logger.Error(fmt.Sprintf("Failed to expand %s: %v", ref.Name, expandErr))
			summary.Add(loaders.Outcome{
				File:   ref.Name,
				Status: loaders.StatusFailure,
				Err:    expandErr,
			})
			continue
		}

		// An expanded container is done; move it to the archive so the
		// next run's pre-clean does not discard it
		if !p.config.DryRun && packagers.IsContainer(staged.LocalPath) {
			if err := p.archive(staged); err != nil {
				p.logger.Warn(fmt.Sprintf("Failed to archive container %s: %v", staged.OriginalName, err))
			}
		}

		for _, file := range expanded {
			// Headered feeds without configured columns take their shape
			// from the first staged file
			if len(shape.ColumnNames) == 0 && shape.HasHeader {
				header, err := parsers.ReadHeader(file.LocalPath, shape.Delimiter)
				if err != nil {
					summary.Add(loaders.Outcome{
						File:   file.OriginalName,
						Status: loaders.StatusFailure,
						Err:    fmt.Errorf("failed to derive columns: %w", err),
					})
					continue
				}
				shape.ColumnNames = header
			}

			// Drop-and-recreate runs at most once per run, before the
			// first load
			if !schemaEnsured && !p.config.DryRun {
				if err := schema.Ensure(ctx, shape, p.config.Database.DropTableIfExists); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInit, err)
				}
				schemaEnsured = true
			}

			if p.config.DryRun {
				p.logger.Info(fmt.Sprintf("[DRY RUN] Would load %s into %s", file.OriginalName, shape.TableName))
				summary.Add(loaders.Outcome{File: file.OriginalName, Status: loaders.StatusSkipped})
				continue
			}

			// Loading
			p.setState(StateLoading, file.OriginalName, i, len(refs))
			outcome, loadErr := p.loader.Load(ctx, file, shape)
			if loadErr != nil {
				return nil, loadErr
			}

			// Finalizing: anything that landed rows (fully or partially)
			// is archived so a re-run does not double-load it
			p.setState(StateFinalizing, file.OriginalName, i, len(refs))
			if outcome.Status == loaders.StatusSuccess || outcome.Status == loaders.StatusPartialFailure {
				if err := p.archive(file); err != nil {
					p.logger.Warn(fmt.Sprintf("Failed to archive %s: %v", file.OriginalName, err))
				}
			} else {
				p.logger.Warn(fmt.Sprintf("Leaving %s in staging for inspection", file.OriginalName))
			}

			summary.Add(outcome)
		}
	}

	// Summarizing
	p.setState(StateSummarizing, "", len(refs), len(refs))
	summary.Freeze()

	// The sink connection is never held across the notification step
	p.closeSink()

	if p.notifier != nil {
		// Best-effort: notification failure is logged, never escalated
		if err := p.notifier.Send(summary); err != nil {
			p.logger.Warn(fmt.Sprintf("Notification failed: %v", err))
		}
	}

	p.setState(StateDone, "", len(refs), len(refs))
	return summary, nil
}

func (p *Pipeline) closeSink() {
	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
}

// fetchWithRetry fetches a listed file, retrying once when the reference
// vanished between list and fetch.
func (p *Pipeline) fetchWithRetry(ctx context.Context, ref sources.RemoteFileRef) (sources.StagedFile, error) {
	staged, err := p.source.Fetch(ctx, ref, p.config.ETL.DownloadPath)
	if err == nil || !errors.Is(err, sources.ErrNotFound) {
		return staged, err
	}

	p.logger.Warn(fmt.Sprintf("File %s not found on fetch, retrying once", ref.Name))
	return p.source.Fetch(ctx, ref, p.config.ETL.DownloadPath)
}

// prepareStaging creates the staging directory and clears leftovers from
// aborted runs so stale files are never loaded.
func (p *Pipeline) prepareStaging() error {
	dir := p.config.ETL.DownloadPath

	// A local source pointed at the staging folder itself must not have
	// its feed files cleared out from under it
	if p.config.ETL.DataSourceType == "local" {
		if same, _ := samePath(dir, p.config.Local.Folder); same {
			return os.MkdirAll(p.config.ETL.ArchivePath, 0o755)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := os.MkdirAll(p.config.ETL.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear staging file %s: %w", entry.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		p.logger.Info(fmt.Sprintf("Cleared %d leftover file(s) from staging", removed))
	}
	return nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}

// archive moves a loaded file to the archive folder. A destination-name
// collision gets the run timestamp appended so earlier deliveries are
// never overwritten.
func (p *Pipeline) archive(file sources.StagedFile) error {
	dest := filepath.Join(p.config.ETL.ArchivePath, file.OriginalName)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(file.OriginalName)
		stem := file.OriginalName[:len(file.OriginalName)-len(ext)]
		dest = filepath.Join(p.config.ETL.ArchivePath,
			fmt.Sprintf("%s_%s%s", stem, time.Now().Format("20060102T150405"), ext))
	}

	if err := os.Rename(file.LocalPath, dest); err == nil {
		p.logger.Debug(fmt.Sprintf("Archived %s → %s", file.OriginalName, dest))
		return nil
	}

	// Rename fails across filesystems; fall back to copy+remove
	src, err := os.Open(file.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", file.OriginalName, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", file.OriginalName, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to archive %s: %w", file.OriginalName, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to archive %s: %w", file.OriginalName, err)
	}
	if err := os.Remove(file.LocalPath); err != nil {
		return fmt.Errorf("failed to remove staged %s: %w", file.OriginalName, err)
	}

	p.logger.Debug(fmt.Sprintf("Archived %s → %s", file.OriginalName, dest))
	return nil
}

// buildSource resolves the configured source kind to a concrete adapter.
func (p *Pipeline) buildSource(ctx context.Context, resolver SecretResolver) (sources.Source, error) {
	switch p.config.ETL.DataSourceType {
	case "sftp":
		password, err := resolver.Get(ctx, secretSFTPPassword)
		if err != nil {
			return nil, err
		}
		return sources.NewSFTPSource(p.config.SFTP.Host, p.config.SFTP.Port,
			p.config.SFTP.Username, password, p.config.SFTP.RemotePath)
	case "s3":
		return sources.NewS3Source(p.config.S3.Bucket, p.config.S3.Folder, p.config.S3.Region)
	case "url":
		return sources.NewURLSource(p.config.URL.URLs)
	case "local":
		return sources.NewLocalSource(p.config.Local.Folder), nil
	default:
		return nil, fmt.Errorf("%w: %s", sources.ErrUnsupportedSource, p.config.ETL.DataSourceType)
	}
}

// buildLoader resolves the configured import method to a load strategy.
func (p *Pipeline) buildLoader(ctx context.Context, resolver SecretResolver, parser parsers.Parser) (loaders.Loader, error) {
	if p.config.Import.BCPImport {
		password, err := resolver.Get(ctx, secretSQLPassword)
		if err != nil {
			return nil, err
		}
		return loaders.NewBulkCopyLoader(loaders.BulkCopyOptions{
			Server:        p.config.Database.Server,
			Database:      p.config.Database.Database,
			Username:      p.config.Database.User,
			Password:      password,
			RowTerminator: p.config.ETL.RowTerminator,
			BatchSize:     p.config.ETL.BatchSize,
			ErrorFile:     p.config.ETL.ErrorLogPath,
			UseView:       p.config.Database.Type == "mssql",
		}, p.logger), nil
	}

	return loaders.NewBatchRowLoader(p.db, p.config.Database.Type, parser, loaders.BatchRowOptions{
		BatchSize:    p.config.ETL.BatchSize,
		MaxErrorRate: p.config.ETL.ErrorRateThreshold,
		BufferAll:    p.config.Import.BufferAll,
	}, p.logger), nil
}

// openSink opens the destination database connection for the configured
// dialect.
func openSink(config DatabaseConfig, password string) (*sql.DB, error) {
	var driver, dsn string
	switch config.Type {
	case "mssql":
		port := config.Port
		if port == 0 {
			port = 1433
		}
		driver = "sqlserver"
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(config.User, password),
			Host:     fmt.Sprintf("%s:%d", config.Server, port),
			RawQuery: "database=" + url.QueryEscape(config.Database),
		}
		dsn = u.String()
	default:
		port := config.Port
		if port == 0 {
			port = 5432
		}
		sslMode := config.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		driver = "postgres"
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Server, port, config.User, password, config.Database, sslMode)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	return db, nil
}
