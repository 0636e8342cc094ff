// Package config loads the customizations of a decorator stack from YAML.
//
//	collections:
//	  books:
//	    rename: {title: name}
//	    hide: [internal_code]
//	    binary: {cover: datauri, id: hex}
//	    emulate:
//	      - {field: title, operator: StartsWith}
//	    emulateFiltering: [isbn]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators"
	"github.com/asaidimu/go-anansi-decorators/decorators/binary"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds the customizations of every collection.
type Config struct {
	Collections map[string]Collection `yaml:"collections"`
}

// Collection holds the customizations of one collection. Fields are named as
// the storage knows them.
type Collection struct {
	Rename           map[string]string `yaml:"rename"`
	Hide             []string          `yaml:"hide"`
	Binary           map[string]string `yaml:"binary"`
	Emulate          []Operator        `yaml:"emulate"`
	EmulateFiltering []string          `yaml:"emulateFiltering"`
}

// Operator designates an operator of a field.
type Operator struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var errs error
	for name, collection := range cfg.Collections {
		for _, op := range collection.Emulate {
			if !slices.Contains(schema.AllOperators, schema.Operator(op.Operator)) {
				errs = multierr.Append(errs, fmt.Errorf("%s.%s: unknown operator '%s'", name, op.Field, op.Operator))
			}
		}
		for field, mode := range collection.Binary {
			if !binary.Mode(mode).Valid() {
				errs = multierr.Append(errs, fmt.Errorf("%s.%s: unknown binary mode '%s'", name, field, mode))
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	return &cfg, nil
}

// Apply registers every customization on stack. Invalid customizations do not
// stop the others; their errors are combined.
func (cfg *Config) Apply(stack *decorators.Stack, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(cfg.Collections))
	for name := range cfg.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		err := cfg.Collections[name].apply(stack.Collection(name))
		if err != nil {
			logger.Warn("Invalid customizations", zap.String("collection", name), zap.Error(err))
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (c Collection) apply(customizer *decorators.CollectionCustomizer) error {
	var errs error

	for _, op := range c.Emulate {
		errs = multierr.Append(errs, customizer.EmulateFieldOperator(op.Field, schema.Operator(op.Operator)))
	}
	for _, field := range c.EmulateFiltering {
		errs = multierr.Append(errs, customizer.EmulateFieldFiltering(field))
	}
	for _, field := range sortedKeys(c.Binary) {
		errs = multierr.Append(errs, customizer.SetBinaryMode(field, binary.Mode(c.Binary[field])))
	}
	for _, field := range c.Hide {
		errs = multierr.Append(errs, customizer.ChangeFieldVisibility(field, false))
	}
	for _, field := range sortedKeys(c.Rename) {
		errs = multierr.Append(errs, customizer.RenameField(field, c.Rename[field]))
	}
	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
