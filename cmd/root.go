package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd.Version=1.2.3"
	Version = "dev" // Default to "dev" if not set during build

	// signalContext is set by main() before Cobra initialization
	// This ensures signal handling is set up before any library can interfere
	signalContext context.Context
	stopFilePath  string

	cfgFile   string
	debug     bool
	logFormat string
	dryRun    bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB454"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5370")).
			Bold(true)

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context, stopFile string) {
	signalContext = ctx
	stopFilePath = stopFile
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, level, r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// fanoutHandler duplicates records to every sink: console, the run log
// file, and the error log file (which only accepts ERROR records).
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// initLogger initializes the slog logger based on debug flag and log format,
// adding file sinks when log_path / error_log_path are configured. Returns
// a cleanup func that closes the log files.
func initLogger(isDebug bool, format, logPath, errorLogPath string) (func(), error) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var console slog.Handler
	switch format {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		console = slog.NewTextHandler(os.Stdout, opts)
	default: // "text" or anything else
		console = newTextOnlyHandler(os.Stdout, opts)
	}

	handlers := []slog.Handler{console}
	var closers []io.Closer

	addFileSink := func(path string, level slog.Level) error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		closers = append(closers, f)
		handlers = append(handlers, newTextOnlyHandler(f, &slog.HandlerOptions{Level: level}))
		return nil
	}

	if logPath != "" {
		fileLevel := slog.LevelInfo
		if isDebug {
			fileLevel = slog.LevelDebug
		}
		if err := addFileSink(logPath, fileLevel); err != nil {
			return nil, err
		}
	}
	if errorLogPath != "" {
		if err := addFileSink(errorLogPath, slog.LevelError); err != nil {
			return nil, err
		}
	}

	logger = slog.New(&fanoutHandler{handlers: handlers})

	return func() {
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

var rootCmd = &cobra.Command{
	Use:     "etl",
	Version: Version,
	Short:   "📥 Config-driven file ingestion into a relational database",
	Long: titleStyle.Render("ETL Data Pipeline") + `

A CLI tool that fetches batches of files from SFTP, S3, HTTP or local
sources, expands compressed archives, parses csv/json/txt feeds and bulk
loads them into SQL Server or PostgreSQL. Load strategy, source and format
are all selected by the run configuration; successful files are moved to an
archive folder and a summary email is sent at the end of the run.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run from the configuration file",
	Long:  `Execute one pipeline run: list matching source files, fetch and expand them into the staging folder, load each into the destination table, archive successes and send the summary notification.`,
	Run: func(_ *cobra.Command, _ []string) {
		runPipeline()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the resolved settings",
	Long:  `Parse and validate the run configuration, then print the resolved settings with credentials masked. Exits non-zero when validation fails.`,
	Run: func(_ *cobra.Command, _ []string) {
		runValidate()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.etl-pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "list and fetch but skip loading and archiving")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		// Legacy run configs are INI; viper needs the type spelled out
		if strings.HasSuffix(cfgFile, ".ini") {
			viper.SetConfigType("ini")
		}
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".etl-pipeline")
	}

	viper.SetEnvPrefix("ETL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			_, _ = initLogger(debug, logFormat, "", "")
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// splitList tolerates both YAML lists and the comma-joined strings INI
// configs carry.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func loadConfigFromViper() *Config {
	viper.SetDefault("etl.bcp_row_start", 1)
	viper.SetDefault("etl.bcp_batch_commit_size", 1000)
	viper.SetDefault("etl.error_rate_threshold", 0.0)
	viper.SetDefault("sftp_source.port", 22)
	viper.SetDefault("mssql.port", 0)
	viper.SetDefault("email.smtp_port", 25)
	viper.SetDefault("secrets.provider", "ssm")

	return &Config{
		Debug:     viper.GetBool("debug"),
		LogFormat: viper.GetString("log_format"),
		DryRun:    viper.GetBool("dry_run"),
		ETL: ETLConfig{
			DataSourceType:     viper.GetString("etl.data_source_type"),
			FileType:           viper.GetString("etl.file_type"),
			FieldDelimiter:     viper.GetString("etl.field_delimiter"),
			FileHasHeader:      viper.GetBool("etl.file_has_header"),
			RowStart:           viper.GetInt("etl.bcp_row_start"),
			BatchSize:          viper.GetInt("etl.bcp_batch_commit_size"),
			RowTerminator:      viper.GetString("etl.bcp_end_of_row"),
			DownloadPath:       viper.GetString("etl.download_path"),
			ArchivePath:        viper.GetString("etl.archive_path"),
			LogPath:            viper.GetString("etl.log_path"),
			ErrorLogPath:       viper.GetString("etl.error_log_path"),
			FileName:           viper.GetString("etl.file_name"),
			FilePrefix:         viper.GetString("etl.file_prefix"),
			FileSuffix:         viper.GetString("etl.file_suffix"),
			FileExtensions:     splitList(viper.GetStringSlice("etl.file_extensions")),
			ColumnNames:        splitList(viper.GetStringSlice("etl.column_names")),
			ErrorRateThreshold: viper.GetFloat64("etl.error_rate_threshold"),
		},
		Import: ImportConfig{
			BCPImport:    viper.GetBool("import_method.bcp_import"),
			PandasImport: viper.GetBool("import_method.pandas_import"),
			BufferAll:    viper.GetBool("import_method.buffer_all"),
		},
		SFTP: SFTPSourceConfig{
			Host:       viper.GetString("sftp_source.host"),
			Port:       viper.GetInt("sftp_source.port"),
			Username:   viper.GetString("sftp_source.username"),
			RemotePath: viper.GetString("sftp_source.remote_path"),
		},
		S3: S3SourceConfig{
			Bucket: viper.GetString("s3_source.bucket"),
			Folder: viper.GetString("s3_source.folder"),
			Region: viper.GetString("s3_source.region"),
		},
		URL: URLSourceConfig{
			URLs: splitList(viper.GetStringSlice("url_source.urls")),
		},
		Local: LocalSourceConfig{
			Folder: viper.GetString("local_source.folder"),
		},
		Database: DatabaseConfig{
			Type:              viper.GetString("etl.database_type"),
			Server:            viper.GetString("mssql.server"),
			Port:              viper.GetInt("mssql.port"),
			Database:          viper.GetString("mssql.database"),
			User:              viper.GetString("mssql.user"),
			TableName:         viper.GetString("mssql.table_name"),
			DropTableIfExists: viper.GetBool("mssql.drop_table_if_exists"),
			SSLMode:           viper.GetString("mssql.sslmode"),
		},
		Email: EmailConfig{
			Enabled:    viper.GetBool("email.enabled"),
			SMTPServer: viper.GetString("email.smtp_server"),
			SMTPPort:   viper.GetInt("email.smtp_port"),
			User:       viper.GetString("email.user"),
			Recipient:  viper.GetString("email.recipient"),
		},
		Secrets: SecretsConfig{
			Provider: viper.GetString("secrets.provider"),
			Region:   viper.GetString("secrets.region"),
		},
	}
}

func runPipeline() {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfigFromViper()

	closeLogs, err := initLogger(config.Debug, config.LogFormat, config.ETL.LogPath, config.ETL.ErrorLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	defer closeLogs()

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 ETL Pipeline v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// Display stop instructions - only in debug mode; in TUI mode printing
	// to stderr corrupts the display
	if config.Debug && stopFilePath != "" {
		fmt.Fprintln(os.Stderr, "\n"+infoStyle.Render("💡 To stop the pipeline: Press CTRL-C, or run:"))
		fmt.Fprintf(os.Stderr, "   "+infoStyle.Render("touch %s")+"\n\n", stopFilePath)
	}

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")

	if err := WritePIDFile(); err != nil {
		logger.Warn(fmt.Sprintf("Could not write PID file: %v", err))
	}
	defer func() {
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
	}()

	// Use the signal context created in main() before Cobra initialization
	ctx := signalContext
	if ctx == nil {
		// Fallback if SetSignalContext wasn't called (shouldn't happen)
		logger.Warn("Signal context not set, creating fallback...")
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	// Force-exit if graceful shutdown takes too long
	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		select {
		case <-exited:
			return
		default:
		}
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, shutting down...")
		select {
		case <-exited:
		case <-time.After(2 * time.Second):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(130)
		}
	}()

	logger.Debug("Creating pipeline...")
	pipeline := NewPipeline(config, logger)
	logger.Debug("Starting pipeline run...")

	// Debug (or non-text) runs use plain logs; interactive runs get the TUI
	var summary *RunSummary
	if config.Debug || config.LogFormat != "text" {
		summary, err = pipeline.Run(ctx)
	} else {
		summary, err = runWithProgressUI(ctx, pipeline)
	}
	close(exited)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Run cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Run failed: %s", err.Error()))
		os.Exit(1)
	}

	printSummary(summary)

	if summary.OverallStatus != string(StatusAllSucceeded) {
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Run completed successfully!")
}

func runValidate() {
	config := loadConfigFromViper()

	if _, err := initLogger(config.Debug, config.LogFormat, "", ""); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	printResolvedConfig(config)

	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Configuration is valid")
}

// printResolvedConfig prints the effective settings with credentials masked.
func printResolvedConfig(config *Config) {
	logger.Info(titleStyle.Render("Resolved configuration"))
	logger.Info(fmt.Sprintf("  Source type:       %s", config.ETL.DataSourceType))
	logger.Info(fmt.Sprintf("  File type:         %s", config.ETL.FileType))
	logger.Info(fmt.Sprintf("  Delimiter:         %q", config.ETL.FieldDelimiter))
	logger.Info(fmt.Sprintf("  Has header:        %t", config.ETL.FileHasHeader))
	logger.Info(fmt.Sprintf("  Row start:         %d", config.ETL.RowStart))
	logger.Info(fmt.Sprintf("  Batch size:        %d", config.ETL.BatchSize))
	logger.Info(fmt.Sprintf("  Download path:     %s", config.ETL.DownloadPath))
	logger.Info(fmt.Sprintf("  Archive path:      %s", config.ETL.ArchivePath))
	logger.Info(fmt.Sprintf("  Selector:          name=%q prefix=%q suffix=%q ext=%v",
		config.ETL.FileName, config.ETL.FilePrefix, config.ETL.FileSuffix, config.ETL.FileExtensions))

	switch config.ETL.DataSourceType {
	case "sftp":
		logger.Info(fmt.Sprintf("  SFTP:              %s@%s:%d %s",
			maskString(config.SFTP.Username), config.SFTP.Host, config.SFTP.Port, config.SFTP.RemotePath))
	case "s3":
		logger.Info(fmt.Sprintf("  S3:                s3://%s/%s (%s)",
			config.S3.Bucket, config.S3.Folder, config.S3.Region))
	case "url":
		logger.Info(fmt.Sprintf("  URLs:              %d configured", len(config.URL.URLs)))
	case "local":
		logger.Info(fmt.Sprintf("  Local folder:      %s", config.Local.Folder))
	}

	method := "bcp"
	if config.Import.PandasImport {
		method = "batched inserts"
		if config.Import.BufferAll {
			method = "batched inserts (whole-file buffer)"
		}
	}
	logger.Info(fmt.Sprintf("  Import method:     %s", method))
	logger.Info(fmt.Sprintf("  Database:          %s %s/%s", config.Database.Type, config.Database.Server, config.Database.Database))
	logger.Info(fmt.Sprintf("  User:              %s", maskString(config.Database.User)))
	logger.Info(fmt.Sprintf("  Table:             %s (drop if exists: %t)", config.Database.TableName, config.Database.DropTableIfExists))
	if config.Email.Enabled {
		logger.Info(fmt.Sprintf("  Email:             %s:%d → %s", config.Email.SMTPServer, config.Email.SMTPPort, config.Email.Recipient))
	}
}
