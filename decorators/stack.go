// Package decorators composes every decorator over a datasource and exposes
// the customization calls of each layer per collection.
//
// Layers are stacked in a fixed order, innermost first:
//
//	emulate -> equivalence -> write -> binary -> publication -> rename
//
// Customizations name fields as the storage knows them. Renames apply last,
// so they never change the names the other customizations use.
package decorators

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"github.com/asaidimu/go-anansi-decorators/decorators/binary"
	"github.com/asaidimu/go-anansi-decorators/decorators/emulate"
	"github.com/asaidimu/go-anansi-decorators/decorators/equivalence"
	"github.com/asaidimu/go-anansi-decorators/decorators/publication"
	"github.com/asaidimu/go-anansi-decorators/decorators/rename"
	"github.com/asaidimu/go-anansi-decorators/decorators/write"
	"go.uber.org/zap"
)

// Stack holds the decorated datasources, one per layer.
type Stack struct {
	logger *zap.Logger
	events *persistence.EventBus

	emulate     *emulate.DataSource
	equivalence *equivalence.DataSource
	write       *write.DataSource
	binary      *binary.DataSource
	publication *publication.DataSource
	rename      *rename.DataSource
}

// NewStack decorates ds. Every layer shares the logger and one lifecycle
// event bus. A nil logger disables logging.
func NewStack(ds persistence.DataSource, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus, err := persistence.NewEventBus()
	if err != nil {
		logger.Warn("Lifecycle events disabled", zap.Error(err))
	}
	opts := base.Options{Logger: logger, Events: bus}

	s := &Stack{logger: logger, events: bus}
	s.emulate = emulate.NewDataSource(ds, opts)
	s.equivalence = equivalence.NewDataSource(s.emulate, opts)
	s.write = write.NewDataSource(s.equivalence, opts)
	s.binary = binary.NewDataSource(s.write, opts)
	s.publication = publication.NewDataSource(s.binary, opts)
	s.rename = rename.NewDataSource(s.publication, opts)

	logger.Debug("Built decorator stack", zap.Int("collections", len(ds.Collections())))
	return s
}

// DataSource returns the fully decorated datasource.
func (s *Stack) DataSource() persistence.DataSource { return s.rename }

// Events returns the bus receiving the lifecycle events of every layer.
func (s *Stack) Events() *persistence.EventBus { return s.events }

// Collection returns the customizer of a collection. Unknown collections
// are reported by the customization calls.
func (s *Stack) Collection(name string) *CollectionCustomizer {
	return &CollectionCustomizer{stack: s, name: name}
}

// Close stops every layer from following new collections.
func (s *Stack) Close() {
	s.rename.Close()
	s.publication.Close()
	s.binary.Close()
	s.write.Close()
	s.equivalence.Close()
	s.emulate.Close()
}

// CollectionCustomizer customizes one collection of a Stack.
type CollectionCustomizer struct {
	stack *Stack
	name  string
}

// Name returns the collection name.
func (c *CollectionCustomizer) Name() string { return c.name }

func (c *CollectionCustomizer) RenameField(current, name string) error {
	return c.stack.rename.RenameField(c.name, current, name)
}

func (c *CollectionCustomizer) EmulateFieldOperator(field string, operator schema.Operator) error {
	return c.stack.emulate.EmulateFieldOperator(c.name, field, operator)
}

func (c *CollectionCustomizer) ReplaceFieldOperator(field string, operator schema.Operator, handler emulate.Handler) error {
	return c.stack.emulate.ReplaceFieldOperator(c.name, field, operator, handler)
}

// EmulateFieldFiltering emulates every operator the column type supports.
func (c *CollectionCustomizer) EmulateFieldFiltering(field string) error {
	collection, err := c.stack.emulate.Decorator(c.name)
	if err != nil {
		return persistence.NewConfigurationError(c.name, field, "%v", err)
	}
	column := collection.Child.Schema().Column(field)
	if column == nil {
		return persistence.NewConfigurationError(c.name, field, "No such column '%s'", field)
	}
	for _, operator := range schema.OperatorsForType(column.ColumnType) {
		if _, native := column.FilterOperators[operator]; native {
			continue
		}
		if err := collection.EmulateFieldOperator(field, operator); err != nil {
			return err
		}
	}
	return nil
}

func (c *CollectionCustomizer) SetBinaryMode(field string, mode binary.Mode) error {
	return c.stack.binary.SetBinaryMode(c.name, field, mode)
}

func (c *CollectionCustomizer) ReplaceFieldWriting(field string, handler write.Handler) error {
	return c.stack.write.ReplaceFieldWriting(c.name, field, handler)
}

func (c *CollectionCustomizer) ChangeFieldVisibility(field string, visible bool) error {
	return c.stack.publication.ChangeFieldVisibility(c.name, field, visible)
}
