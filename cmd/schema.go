package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/parsers"
)

// SchemaManager ensures the landing table exists before any load runs.
// Columns are text-typed on purpose: feeds carry no authoritative schema
// and the destination is a landing table, not a validated warehouse.
type SchemaManager struct {
	db     *sql.DB
	driver string // mssql or postgres
	logger *slog.Logger
}

func NewSchemaManager(db *sql.DB, driver string, logger *slog.Logger) *SchemaManager {
	return &SchemaManager{db: db, driver: driver, logger: logger}
}

// Ensure drops (when asked) and creates the destination table. Dropping a
// missing table is not an error. When the table already exists and drop is
// off, its shape is not verified against the configured columns; the
// actual column count is logged for the operator instead.
func (m *SchemaManager) Ensure(ctx context.Context, shape parsers.TableShape, dropIfExists bool) error {
	if dropIfExists {
		if err := m.drop(ctx, shape.TableName); err != nil {
			return err
		}
	} else {
		count, err := m.columnCount(ctx, shape.TableName)
		if err != nil {
			return err
		}
		if count > 0 {
			m.logger.Debug(fmt.Sprintf("Table %s already exists with %d columns (configured: %d), leaving as-is",
				shape.TableName, count, len(shape.ColumnNames)))
			return nil
		}
	}

	return m.create(ctx, shape)
}

func (m *SchemaManager) drop(ctx context.Context, table string) error {
	if m.driver == "mssql" {
		// The companion view depends on the table and must go first
		dropView := fmt.Sprintf(
			"IF OBJECT_ID('%s_View', 'V') IS NOT NULL DROP VIEW %s",
			table, quoteMSSQL(table+"_View"))
		if _, err := m.db.ExecContext(ctx, dropView); err != nil {
			return fmt.Errorf("failed to drop view %s_View: %w", table, err)
		}
		dropTable := fmt.Sprintf(
			"IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s",
			table, quoteMSSQL(table))
		if _, err := m.db.ExecContext(ctx, dropTable); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		return nil
	}

	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(table))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

func (m *SchemaManager) create(ctx context.Context, shape parsers.TableShape) error {
	if m.driver == "mssql" {
		return m.createMSSQL(ctx, shape)
	}
	return m.createPostgres(ctx, shape)
}

func (m *SchemaManager) createPostgres(ctx context.Context, shape parsers.TableShape) error {
	columns := make([]string, len(shape.ColumnNames))
	for i, col := range shape.ColumnNames {
		columns[i] = fmt.Sprintf("%s TEXT", pq.QuoteIdentifier(col))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(shape.TableName), strings.Join(columns, ", "))

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", shape.TableName, err)
	}

	m.logger.Info(fmt.Sprintf("Ensured table %s (%d columns)", shape.TableName, len(shape.ColumnNames)))
	return nil
}

// createMSSQL creates the landing table with an identity RecId plus a
// companion view exposing only the data columns. bcp loads through the
// view so the identity column never appears in the incoming column list.
func (m *SchemaManager) createMSSQL(ctx context.Context, shape parsers.TableShape) error {
	columns := make([]string, 0, len(shape.ColumnNames)+1)
	columns = append(columns, "[RecId] BIGINT IDENTITY(1,1) NOT NULL")
	for _, col := range shape.ColumnNames {
		columns = append(columns, fmt.Sprintf("%s NVARCHAR(MAX) NULL", quoteMSSQL(col)))
	}

	createTable := fmt.Sprintf(
		"IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (%s)",
		shape.TableName, quoteMSSQL(shape.TableName), strings.Join(columns, ", "))
	if _, err := m.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", shape.TableName, err)
	}

	selectCols := make([]string, len(shape.ColumnNames))
	for i, col := range shape.ColumnNames {
		selectCols[i] = quoteMSSQL(col)
	}

	// CREATE VIEW has to be the only statement in its batch, hence EXEC
	createView := fmt.Sprintf(
		"IF OBJECT_ID('%s_View', 'V') IS NULL EXEC('CREATE VIEW %s AS SELECT %s FROM %s')",
		shape.TableName,
		quoteMSSQL(shape.TableName+"_View"),
		strings.Join(selectCols, ", "),
		quoteMSSQL(shape.TableName))
	if _, err := m.db.ExecContext(ctx, createView); err != nil {
		return fmt.Errorf("failed to create view %s_View: %w", shape.TableName, err)
	}

	m.logger.Info(fmt.Sprintf("Ensured table %s and view %s_View (%d columns)",
		shape.TableName, shape.TableName, len(shape.ColumnNames)))
	return nil
}

// columnCount reports how many columns the table currently has, 0 when it
// does not exist.
func (m *SchemaManager) columnCount(ctx context.Context, table string) (int, error) {
	query := "SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1"
	if m.driver == "mssql" {
		query = "SELECT COUNT(*) FROM information_schema.columns WHERE table_name = @p1"
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	return count, nil
}

// quoteMSSQL bracket-quotes a SQL Server identifier.
func quoteMSSQL(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
