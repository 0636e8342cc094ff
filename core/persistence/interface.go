// Package persistence defines the contracts shared by storage adapters and
// decorators. A decorated collection implements the same Collection interface
// as the adapter it wraps, so decorators compose recursively.
package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// Caller is the identity and request context under which an operation runs.
type Caller struct {
	ID        string
	Email     string
	RequestID string
	// Timezone is an IANA name such as "Europe/Paris". Empty means UTC.
	Timezone string
	Tags     map[string]string
}

// Location resolves the caller's timezone, falling back to UTC when the caller
// is nil or the name is unknown.
func (c *Caller) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActionResultType tells clients how to render the outcome of an action.
type ActionResultType string

const (
	ActionSuccess  ActionResultType = "Success"
	ActionError    ActionResultType = "Error"
	ActionWebhook  ActionResultType = "Webhook"
	ActionFile     ActionResultType = "File"
	ActionRedirect ActionResultType = "Redirect"
)

// ActionResult is returned by Collection.Execute.
type ActionResult struct {
	Type        ActionResultType
	Message     string
	Body        any
	Invalidated []string
}

// ActionField describes one input of an action form.
type ActionField struct {
	Field       string
	Label       string
	Description string
	Type        schema.ColumnType
	IsRequired  bool
	IsReadOnly  bool
	Value       any
	EnumValues  []string
}

// Chart is the rendered payload of a chart, interpreted by the client.
type Chart map[string]any

// Collection is a named set of records with a schema. Every data operation
// receives the caller it runs for.
type Collection interface {
	Name() string
	DataSource() DataSource
	Schema() *schema.CollectionSchema

	List(ctx context.Context, caller *Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error)
	Create(ctx context.Context, caller *Caller, records []schema.Record) ([]schema.Record, error)
	Update(ctx context.Context, caller *Caller, filter *query.Filter, patch schema.Record) error
	Delete(ctx context.Context, caller *Caller, filter *query.Filter) error
	Aggregate(ctx context.Context, caller *Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error)

	Execute(ctx context.Context, caller *Caller, name string, data schema.Record, filter *query.Filter) (*ActionResult, error)
	GetForm(ctx context.Context, caller *Caller, name string, data schema.Record, filter *query.Filter) ([]ActionField, error)
	RenderChart(ctx context.Context, caller *Caller, name string, id []any) (Chart, error)
}

// DataSourceSchema describes what a datasource exposes besides collections.
type DataSourceSchema struct {
	Charts []string
}

// DataSource is a registry of collections that can grow after construction.
type DataSource interface {
	Collections() []Collection
	GetCollection(name string) (Collection, error)
	Schema() *DataSourceSchema
	RenderChart(ctx context.Context, caller *Caller, name string) (Chart, error)

	// OnCollectionAdded registers fn to be called synchronously with every
	// collection added from now on. The returned function removes it.
	OnCollectionAdded(fn func(Collection)) (unsubscribe func())
}
