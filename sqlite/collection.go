// Package sqlite is a storage adapter keeping the records of each collection
// in a SQLite table. Filters, sorts, pages, projections and aggregations are
// translated to SQL with squirrel. Relation paths are not supported: relations
// are resolved by the decorators above, or by the memory adapter.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dbRunner abstracts the methods shared by *sql.DB and *sql.Tx.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Collection is a collection stored in one SQLite table named after it.
type Collection struct {
	db      *sql.DB
	ds      persistence.DataSource
	name    string
	schema  *schema.CollectionSchema
	logger  *zap.Logger
	builder *queryBuilder
}

var _ persistence.Collection = (*Collection)(nil)

// NewCollection binds a collection to its table. The table is not created;
// call EnsureTable for that. A nil logger disables logging.
func NewCollection(db *sql.DB, ds persistence.DataSource, name string, s *schema.CollectionSchema, logger *zap.Logger) *Collection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection{
		db:      db,
		ds:      ds,
		name:    name,
		schema:  s,
		logger:  logger.With(zap.String("collection", name)),
		builder: &queryBuilder{table: name, schema: s},
	}
}

func (c *Collection) Name() string                       { return c.name }
func (c *Collection) DataSource() persistence.DataSource { return c.ds }
func (c *Collection) Schema() *schema.CollectionSchema   { return c.schema }

func (c *Collection) query(ctx context.Context, runner dbRunner, stmt sq.Sqlizer) ([]schema.Record, error) {
	sqlQuery, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	c.logger.Debug("Executing SQL query", zap.String("sql", sqlQuery), zap.Any("params", args))

	rows, err := runner.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		c.logger.Error("Failed to execute query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	return readRows(c.logger, c.schema, rows)
}

func (c *Collection) exec(ctx context.Context, stmt sq.Sqlizer) (int64, error) {
	sqlQuery, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL statement: %w", err)
	}
	c.logger.Debug("Executing SQL statement", zap.String("sql", sqlQuery), zap.Any("params", args))

	result, err := c.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		c.logger.Error("Failed to execute statement", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return result.RowsAffected()
}

func (c *Collection) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	stmt, err := c.builder.selectQuery(filter, projection)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, c.db, stmt)
}

// storageValues validates a record and converts its values for the driver.
func (c *Collection) storageValues(record schema.Record) (map[string]any, error) {
	values := make(map[string]any, len(record))
	for key, value := range record {
		column := c.schema.Column(key)
		if column == nil {
			return nil, persistence.NewValidationError("Unknown column %q in collection '%s'", key, c.name)
		}
		if issues := schema.ValidateValue(key, column, value); len(issues) > 0 {
			return nil, &persistence.ValidationError{Message: "Invalid record", Issues: issues}
		}
		converted, err := toStorage(column, value)
		if err != nil {
			return nil, err
		}
		values[quoteIdentifier(key)] = converted
	}
	return values, nil
}

// Create inserts the records in one transaction and returns them as stored.
func (c *Collection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	if len(records) == 0 {
		return []schema.Record{}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				c.logger.Error("Failed to roll back transaction", zap.Error(rollbackErr))
			}
		}
	}()

	created := make([]schema.Record, 0, len(records))
	for _, record := range records {
		var values map[string]any
		values, err = c.storageValues(c.withGeneratedKeys(record))
		if err != nil {
			return nil, err
		}

		var inserted []schema.Record
		inserted, err = c.query(ctx, tx, c.insertQuery(values))
		if err != nil {
			return nil, err
		}
		created = append(created, inserted...)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	c.logger.Debug("Created records", zap.Int("count", len(created)))
	return created, nil
}

func (c *Collection) insertQuery(values map[string]any) sq.Sqlizer {
	table := quoteIdentifier(c.name)
	if len(values) == 0 {
		return sq.Expr("INSERT INTO " + table + " DEFAULT VALUES RETURNING *")
	}

	columns := make([]string, 0, len(values))
	for column := range values {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	args := make([]any, len(columns))
	for i, column := range columns {
		args[i] = values[column]
	}
	return sq.Insert(table).Columns(columns...).Values(args...).Suffix("RETURNING *")
}

// withGeneratedKeys fills the missing Uuid primary keys. Number primary keys
// are generated by SQLite.
func (c *Collection) withGeneratedKeys(record schema.Record) schema.Record {
	out := make(schema.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, pk := range c.schema.PrimaryKeys() {
		if out[pk] == nil && c.schema.Column(pk).ColumnType == schema.TypeUUID {
			out[pk] = uuid.NewString()
		}
	}
	return out
}

func (c *Collection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	values, err := c.storageValues(patch)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	stmt := sq.Update(quoteIdentifier(c.name)).SetMap(values)
	where, err := c.builder.where(filter)
	if err != nil {
		return err
	}
	if where != nil {
		stmt = stmt.Where(where)
	}

	updated, err := c.exec(ctx, stmt)
	if err != nil {
		return err
	}
	c.logger.Debug("Updated records", zap.Int64("count", updated))
	return nil
}

func (c *Collection) Delete(ctx context.Context, caller *persistence.Caller, filter *query.Filter) error {
	stmt := sq.Delete(quoteIdentifier(c.name))
	where, err := c.builder.where(filter)
	if err != nil {
		return err
	}
	if where != nil {
		stmt = stmt.Where(where)
	}

	deleted, err := c.exec(ctx, stmt)
	if err != nil {
		return err
	}
	c.logger.Debug("Deleted records", zap.Int64("count", deleted))
	return nil
}

// Aggregate runs column groups in SQL. Date groups are computed in process
// over the filtered records.
func (c *Collection) Aggregate(ctx context.Context, caller *persistence.Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error) {
	for _, group := range aggregation.Groups {
		if group.Operation != "" {
			records, err := c.List(ctx, caller, query.Paginated(filter), aggregation.Projection())
			if err != nil {
				return nil, err
			}
			return aggregation.Apply(records, caller.Location(), limit)
		}
	}

	stmt, err := c.builder.aggregateQuery(filter, aggregation, limit)
	if err != nil {
		return nil, err
	}
	sqlQuery, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	c.logger.Debug("Executing SQL aggregate", zap.String("sql", sqlQuery), zap.Any("params", args))

	rows, err := c.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	records, err := readRows(zap.NewNop(), c.schema, rows)
	if err != nil {
		return nil, err
	}

	results := make([]query.AggregateResult, len(records))
	for i, record := range records {
		group := make(map[string]any, len(aggregation.Groups))
		for _, g := range aggregation.Groups {
			group[g.Field] = record[g.Field]
		}
		results[i] = query.AggregateResult{Value: c.aggregateValue(aggregation, record[valueAlias]), Group: group}
	}
	return results, nil
}

// aggregateValue normalizes a SQL aggregate to the types the in-process
// aggregation yields.
func (c *Collection) aggregateValue(aggregation *query.Aggregation, value any) any {
	switch aggregation.Operation {
	case query.AggregateCount:
		if n, ok := value.(int64); ok {
			return int(n)
		}
	case query.AggregateSum:
		f, _ := query.ToFloat64(value)
		return f
	case query.AggregateAvg:
		if value == nil {
			return nil
		}
		f, _ := query.ToFloat64(value)
		return f
	default:
		if column := c.schema.Column(aggregation.Field); column != nil {
			return fromStorage(column, value)
		}
	}
	return value
}

func (c *Collection) Execute(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) (*persistence.ActionResult, error) {
	return nil, fmt.Errorf("action '%s' is not defined on '%s': %w", name, c.name, persistence.ErrUnsupported)
}

func (c *Collection) GetForm(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) ([]persistence.ActionField, error) {
	return nil, nil
}

func (c *Collection) RenderChart(ctx context.Context, caller *persistence.Caller, name string, id []any) (persistence.Chart, error) {
	return nil, fmt.Errorf("chart '%s' is not defined on '%s': %w", name, c.name, persistence.ErrUnsupported)
}
