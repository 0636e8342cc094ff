package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"go.uber.org/zap"
)

// quoteIdentifier quotes a table or column name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnSQLType maps a column type to its SQLite storage type. Dates are kept
// as TEXT so that the driver hands back the strings it received.
func columnSQLType(t schema.ColumnType) string {
	switch t {
	case schema.TypeNumber:
		return "NUMERIC"
	case schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// isJSON reports whether values of the column type are stored serialized.
func isJSON(t schema.ColumnType) bool {
	switch t.(type) {
	case schema.ArrayType, schema.StructType:
		return true
	}
	return t == schema.TypeJSON || t == schema.TypePoint
}

// createTableSQL builds the DDL of a collection. A single Number primary key
// becomes the rowid alias so that SQLite generates it.
func createTableSQL(table string, s *schema.CollectionSchema) (string, error) {
	pks := s.PrimaryKeys()
	rowid := len(pks) == 1 && s.Column(pks[0]).ColumnType == schema.TypeNumber

	var columns []string
	for _, name := range s.FieldNames() {
		column := s.Column(name)
		if column == nil {
			continue
		}
		def, err := columnDefinition(name, column, rowid)
		if err != nil {
			return "", fmt.Errorf("error on field '%s': %w", name, err)
		}
		columns = append(columns, "    "+def)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("collection '%s' has no column", table)
	}

	if len(pks) > 0 && !rowid {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = quoteIdentifier(pk)
		}
		columns = append(columns, "    PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	return "CREATE TABLE IF NOT EXISTS " + quoteIdentifier(table) + " (\n" + strings.Join(columns, ",\n") + "\n);", nil
}

func columnDefinition(name string, column *schema.ColumnSchema, rowid bool) (string, error) {
	if rowid && column.IsPrimaryKey {
		return quoteIdentifier(name) + " INTEGER PRIMARY KEY", nil
	}

	parts := []string{quoteIdentifier(name), columnSQLType(column.ColumnType)}
	if column.DefaultValue != nil {
		def, err := formatDefaultValue(column.DefaultValue, column.ColumnType)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+def)
	}
	if column.ColumnType == schema.TypeEnum && len(column.EnumValues) > 0 {
		values := make([]string, len(column.EnumValues))
		for i, v := range column.EnumValues {
			values[i] = quoteString(v)
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))", quoteIdentifier(name), strings.Join(values, ", ")))
	}
	return strings.Join(parts, " "), nil
}

func quoteString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// formatDefaultValue renders a default value as a DDL literal.
func formatDefaultValue(value any, t schema.ColumnType) (string, error) {
	if isJSON(t) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to marshal default value to JSON: %w", err)
		}
		return quoteString(string(encoded)), nil
	}

	switch t {
	case schema.TypeNumber:
		return fmt.Sprintf("%v", value), nil
	case schema.TypeBoolean:
		if b, ok := value.(bool); ok && b {
			return "1", nil
		}
		return "0", nil
	case schema.TypeBinary:
		return "", fmt.Errorf("unsupported type for default value: %s", t)
	default:
		return quoteString(fmt.Sprintf("%v", value)), nil
	}
}

// toStorage converts a record value into a query parameter.
func toStorage(column *schema.ColumnSchema, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if isJSON(column.ColumnType) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize value to JSON: %w", err)
		}
		return string(encoded), nil
	}
	if column.ColumnType == schema.TypeBoolean {
		if b, ok := value.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
	}
	return value, nil
}

// fromStorage converts a scanned value back to the representation used by
// records.
func fromStorage(column *schema.ColumnSchema, value any) any {
	if value == nil {
		return nil
	}

	if isJSON(column.ColumnType) {
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return value
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return value
		}
		return decoded
	}

	switch column.ColumnType {
	case schema.TypeBoolean:
		if i, ok := value.(int64); ok {
			return i != 0
		}
	case schema.TypeBinary:
		if s, ok := value.(string); ok {
			return []byte(s)
		}
	case schema.TypeNumber:
		return value
	default:
		if b, ok := value.([]byte); ok {
			return string(b)
		}
	}
	return value
}

// readRows scans rows into records. Columns missing from the schema keep
// their raw value.
func readRows(logger *zap.Logger, s *schema.CollectionSchema, rows *sql.Rows) ([]schema.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []schema.Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(schema.Record, len(columns))
		for i, name := range columns {
			column := s.Column(name)
			if column == nil {
				logger.Warn("Column not found in schema, using raw value", zap.String("column", name))
				record[name] = values[i]
				continue
			}
			record[name] = fromStorage(column, values[i])
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

// EnsureTable creates the table of the collection when it does not exist.
func (c *Collection) EnsureTable(ctx context.Context) error {
	ddl, err := createTableSQL(c.name, c.schema)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for table %s: %w", c.name, err)
	}
	c.logger.Debug("Executing SQL DDL", zap.String("sql", ddl))
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to execute SQL statement '%s': %w", ddl, err)
	}
	return nil
}
