package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Static errors for configuration validation
var (
	ErrSourceTypeInvalid      = errors.New("data source type must be one of: sftp, s3, url, local")
	ErrDatabaseTypeInvalid    = errors.New("database type must be one of: mssql, postgres")
	ErrFileTypeInvalid        = errors.New("file type must be one of: csv, json, txt")
	ErrImportMethodAmbiguous  = errors.New("exactly one import method must be enabled (bcp_import or pandas_import)")
	ErrBCPRequiresMSSQL       = errors.New("bcp_import requires database type mssql")
	ErrTableNameRequired      = errors.New("table name is required")
	ErrTableNameInvalid       = errors.New("table name is invalid: must start with a letter or underscore and contain only letters, numbers, and underscores")
	ErrDatabaseServerRequired = errors.New("database server is required")
	ErrDatabaseNameRequired   = errors.New("database name is required")
	ErrDatabaseUserRequired   = errors.New("database user is required")
	ErrDownloadPathRequired   = errors.New("download path is required")
	ErrArchivePathRequired    = errors.New("archive path is required")
	ErrSelectorRequired       = errors.New("at least one of file_name, file_prefix, or file_extensions is required")
	ErrColumnNamesRequired    = errors.New("column_names is required when the feed has no header row")
	ErrBatchSizeInvalid       = errors.New("batch commit size must be at least 1")
	ErrRowStartInvalid        = errors.New("row start must be at least 1")
	ErrErrorRateInvalid       = errors.New("error rate threshold must be between 0 and 1")
	ErrSFTPHostRequired       = errors.New("sftp host is required")
	ErrSFTPUserRequired       = errors.New("sftp username is required")
	ErrSFTPPortInvalid        = errors.New("sftp port must be between 1 and 65535")
	ErrS3BucketRequired       = errors.New("s3 bucket is required")
	ErrURLListRequired        = errors.New("url source requires at least one url")
	ErrURLInvalid             = errors.New("url source entry is not a valid absolute URL")
	ErrLocalFolderRequired    = errors.New("local source folder is required")
	ErrSMTPServerRequired     = errors.New("smtp server is required when email notification is enabled")
	ErrSMTPRecipientRequired  = errors.New("smtp recipient is required when email notification is enabled")
)

type Config struct {
	Debug     bool
	LogFormat string
	DryRun    bool

	ETL      ETLConfig
	Import   ImportConfig
	SFTP     SFTPSourceConfig
	S3       S3SourceConfig
	URL      URLSourceConfig
	Local    LocalSourceConfig
	Database DatabaseConfig
	Email    EmailConfig
	Secrets  SecretsConfig
}

// ETLConfig is the main pipeline group: what to pick up, how to parse it,
// where to stage and archive it.
type ETLConfig struct {
	DataSourceType string // sftp, s3, url, local
	FileType       string // csv, json, txt
	FieldDelimiter string
	FileHasHeader  bool
	RowStart       int    // first data row, 1-based (bcp -F semantics)
	BatchSize      int    // rows per batch commit
	RowTerminator  string // bcp -r, literal or escape/hex notation
	DownloadPath   string
	ArchivePath    string
	LogPath        string
	ErrorLogPath   string

	// Selector
	FileName       string
	FilePrefix     string
	FileSuffix     string
	FileExtensions []string

	// Column names for headerless feeds and JSON field projection. When the
	// feed has a header row this may be empty and is derived from the first
	// staged file.
	ColumnNames []string

	// ErrorRateThreshold is the tolerated malformed-row fraction per file
	// (0..1). Strictly above it the file is a Failure.
	ErrorRateThreshold float64
}

// ImportConfig selects the load strategy. Key names mirror the legacy
// config layout; exactly one must be true.
type ImportConfig struct {
	BCPImport    bool
	PandasImport bool // batched multi-row inserts, optionally whole-file buffered
	BufferAll    bool
}

type SFTPSourceConfig struct {
	Host       string
	Port       int
	Username   string
	RemotePath string
}

type S3SourceConfig struct {
	Bucket string
	Folder string
	Region string
}

type URLSourceConfig struct {
	URLs []string
}

type LocalSourceConfig struct {
	Folder string
}

type DatabaseConfig struct {
	Type              string // mssql, postgres
	Server            string
	Port              int
	Database          string
	User              string
	TableName         string
	DropTableIfExists bool
	SSLMode           string // postgres only
}

type EmailConfig struct {
	Enabled    bool
	SMTPServer string
	SMTPPort   int
	User       string
	Recipient  string
}

// SecretsConfig selects the credential resolver. Passwords never appear in
// configuration; they are fetched at run time under fixed names.
type SecretsConfig struct {
	Provider string // ssm or env
	Region   string
}

// validIdentifier matches both PostgreSQL and SQL Server unquoted
// identifier rules, which is all we ever generate.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidTableName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	return validIdentifier.MatchString(name)
}

func isValidSourceType(t string) bool {
	switch t {
	case "sftp", "s3", "url", "local":
		return true
	}
	return false
}

func isValidDatabaseType(t string) bool {
	switch t {
	case "mssql", "postgres":
		return true
	}
	return false
}

func isValidFileType(t string) bool {
	switch t {
	case "csv", "json", "txt":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	if !isValidSourceType(c.ETL.DataSourceType) {
		return fmt.Errorf("%w, got '%s'", ErrSourceTypeInvalid, c.ETL.DataSourceType)
	}
	if !isValidDatabaseType(c.Database.Type) {
		return fmt.Errorf("%w, got '%s'", ErrDatabaseTypeInvalid, c.Database.Type)
	}
	if !isValidFileType(c.ETL.FileType) {
		return fmt.Errorf("%w, got '%s'", ErrFileTypeInvalid, c.ETL.FileType)
	}

	// Exactly one load strategy
	if c.Import.BCPImport == c.Import.PandasImport {
		return ErrImportMethodAmbiguous
	}
	// bcp is a SQL Server facility; there is no equivalent external loader
	// wired for postgres
	if c.Import.BCPImport && c.Database.Type != "mssql" {
		return ErrBCPRequiresMSSQL
	}

	// Database target
	if c.Database.Server == "" {
		return ErrDatabaseServerRequired
	}
	if c.Database.Database == "" {
		return ErrDatabaseNameRequired
	}
	if c.Database.User == "" {
		return ErrDatabaseUserRequired
	}
	if c.Database.TableName == "" {
		return ErrTableNameRequired
	}
	if !isValidTableName(c.Database.TableName) {
		return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, c.Database.TableName)
	}

	// Filesystem layout
	if c.ETL.DownloadPath == "" {
		return ErrDownloadPathRequired
	}
	if c.ETL.ArchivePath == "" {
		return ErrArchivePathRequired
	}

	// Selector must constrain something; an unconstrained selector would
	// ingest every file the source lists
	if c.ETL.FileName == "" && c.ETL.FilePrefix == "" && len(c.ETL.FileExtensions) == 0 {
		return ErrSelectorRequired
	}

	if !c.ETL.FileHasHeader && len(c.ETL.ColumnNames) == 0 {
		return ErrColumnNamesRequired
	}

	if c.ETL.BatchSize < 1 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeInvalid, c.ETL.BatchSize)
	}
	if c.ETL.RowStart < 1 {
		return fmt.Errorf("%w, got %d", ErrRowStartInvalid, c.ETL.RowStart)
	}
	if c.ETL.ErrorRateThreshold < 0 || c.ETL.ErrorRateThreshold > 1 {
		return fmt.Errorf("%w, got %g", ErrErrorRateInvalid, c.ETL.ErrorRateThreshold)
	}

	// Source sub-group matching data_source_type
	switch c.ETL.DataSourceType {
	case "sftp":
		if c.SFTP.Host == "" {
			return ErrSFTPHostRequired
		}
		if c.SFTP.Username == "" {
			return ErrSFTPUserRequired
		}
		if c.SFTP.Port < 1 || c.SFTP.Port > 65535 {
			return fmt.Errorf("%w, got %d", ErrSFTPPortInvalid, c.SFTP.Port)
		}
	case "s3":
		if c.S3.Bucket == "" {
			return ErrS3BucketRequired
		}
	case "url":
		if len(c.URL.URLs) == 0 {
			return ErrURLListRequired
		}
		for _, raw := range c.URL.URLs {
			u, err := url.Parse(raw)
			if err != nil || !u.IsAbs() || u.Host == "" {
				return fmt.Errorf("%w: '%s'", ErrURLInvalid, raw)
			}
		}
	case "local":
		if c.Local.Folder == "" {
			return ErrLocalFolderRequired
		}
	}

	// Email is optional; when enabled the boundary fields are required
	if c.Email.Enabled {
		if c.Email.SMTPServer == "" {
			return ErrSMTPServerRequired
		}
		if c.Email.Recipient == "" {
			return ErrSMTPRecipientRequired
		}
	}

	return nil
}

// maskString masks sensitive strings (shows first 4 chars, rest as *)
func maskString(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
