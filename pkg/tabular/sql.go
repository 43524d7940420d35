package tabular

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLCodec stores a Dataset as a single SQL table. By default path is
// opened as a SQLite database. Callers can pass their own connection in
// Options.DB. Writes replace the table if it already exists.
type SQLCodec struct{}

// NewSQLCodec creates a db codec
func NewSQLCodec() *SQLCodec { return &SQLCodec{} }

func (c *SQLCodec) Format() Format { return FormatDB }

// open returns the connection to use and a release func for it
func (c *SQLCodec) open(path string, opts Options) (*gorm.DB, func(), error) {
	if opts.Table == "" {
		return nil, nil, fmt.Errorf("db format requires a table name")
	}
	if opts.DB != nil {
		return opts.DB, func() {}, nil
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	release := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, release, nil
}

func (c *SQLCodec) Read(path string, opts Options) (*Dataset, error) {
	db, release, err := c.open(path, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.Raw("SELECT * FROM " + quoteIdent(opts.Table)).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to query table %q: %w", opts.Table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	// SQLite stores BOOLEAN as 0/1, so the declared type restores bool cells
	boolCols := make([]bool, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			boolCols[i] = strings.EqualFold(ct.DatabaseTypeName(), "BOOLEAN")
		}
	}

	ds := &Dataset{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(ds.Rows), err)
		}
		for i, v := range values {
			values[i] = sqlCell(v)
			if n, ok := values[i].(int64); ok && boolCols[i] {
				values[i] = n != 0
			}
		}
		ds.Rows = append(ds.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return ds, nil
}

// Write drops and recreates the table inside one transaction
func (c *SQLCodec) Write(ds *Dataset, path string, opts Options) error {
	db, release, err := c.open(path, opts)
	if err != nil {
		return err
	}
	defer release()

	if len(ds.Columns) == 0 {
		return fmt.Errorf("table %q needs at least one column", opts.Table)
	}

	table := quoteIdent(opts.Table)
	defs := make([]string, len(ds.Columns))
	names := make([]string, len(ds.Columns))
	marks := make([]string, len(ds.Columns))
	for j, col := range ds.Columns {
		names[j] = quoteIdent(col)
		defs[j] = names[j] + " " + sqlColumnType(inferColumnKind(ds, j))
		marks[j] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(marks, ", "))

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DROP TABLE IF EXISTS " + table).Error; err != nil {
			return fmt.Errorf("failed to drop table %q: %w", opts.Table, err)
		}
		if err := tx.Exec(create).Error; err != nil {
			return fmt.Errorf("failed to create table %q: %w", opts.Table, err)
		}
		for r, row := range ds.Rows {
			if err := tx.Exec(insert, row...).Error; err != nil {
				return fmt.Errorf("failed to insert row %d: %w", r, err)
			}
		}
		return nil
	})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlColumnType(kind columnKind) string {
	switch kind {
	case kindInt:
		return "INTEGER"
	case kindFloat:
		return "REAL"
	case kindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func sqlCell(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}
