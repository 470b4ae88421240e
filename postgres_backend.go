package fixtures

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// Execer is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// RowFunc maps a record to column values.
type RowFunc[R any] func(R) (map[string]interface{}, error)

// PostgresBackend inserts each record as one row of a table and deletes it by its key columns.
type PostgresBackend[R any] struct {
	db         Execer
	table      string
	keyColumns []string
	row        RowFunc[R]
}

var _ Backend[any] = (*PostgresBackend[any])(nil)

// NewPostgresBackend writes records into table (optionally schema qualified). Rows come from
// StructRow unless row is non-nil.
func NewPostgresBackend[R any](db Execer, table string, keyColumns []string, row RowFunc[R]) *PostgresBackend[R] {
	if row == nil {
		row = StructRow[R]
	}
	return &PostgresBackend[R]{
		db:         db,
		table:      table,
		keyColumns: keyColumns,
		row:        row,
	}
}

func (b *PostgresBackend[R]) Insert(ctx context.Context, record R) error {
	row, err := b.row(record)
	if err != nil {
		return err
	}
	sql, args := insertStatement(b.table, row)
	if _, err := b.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert into %v: %w", b.table, err)
	}
	return nil
}

func (b *PostgresBackend[R]) Remove(ctx context.Context, record R) error {
	row, err := b.row(record)
	if err != nil {
		return err
	}
	sql, args, err := deleteStatement(b.table, b.keyColumns, row)
	if err != nil {
		return err
	}
	if _, err := b.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to delete from %v: %w", b.table, err)
	}
	return nil
}

// StructRow maps the exported fields of a struct (or pointer to struct) to columns. The column name
// comes from a `db` tag, or the snake cased field name. Fields tagged `db:"-"` are skipped.
// A map[string]interface{} record is used as is.
func StructRow[R any](record R) (map[string]interface{}, error) {
	if m, ok := any(record).(map[string]interface{}); ok {
		return m, nil
	}
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot build a row from a nil %T", record)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot build a row from %T", record)
	}
	row := map[string]interface{}{}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strcase.ToSnake(field.Name)
		if tag, ok := field.Tag.Lookup("db"); ok {
			tag = strings.Split(tag, ",")[0]
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		row[name] = v.Field(i).Interface()
	}
	return row, nil
}

func tableIdentifier(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func insertStatement(table string, row map[string]interface{}) (string, []interface{}) {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	names := make([]string, len(columns))
	params := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, c := range columns {
		names[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	sql := fmt.Sprintf("INSERT INTO %v (%v) VALUES (%v)", tableIdentifier(table), strings.Join(names, ", "), strings.Join(params, ", "))
	return sql, args
}

func deleteStatement(table string, keyColumns []string, row map[string]interface{}) (string, []interface{}, error) {
	if len(keyColumns) == 0 {
		return "", nil, fmt.Errorf("no key columns configured for %v", table)
	}
	conditions := make([]string, len(keyColumns))
	args := make([]interface{}, len(keyColumns))
	for i, c := range keyColumns {
		v, ok := row[c]
		if !ok {
			return "", nil, fmt.Errorf("record is missing key column %q", c)
		}
		conditions[i] = fmt.Sprintf("%v = $%d", pgx.Identifier{c}.Sanitize(), i+1)
		args[i] = v
	}
	sql := fmt.Sprintf("DELETE FROM %v WHERE %v", tableIdentifier(table), strings.Join(conditions, " AND "))
	return sql, args, nil
}
