package kinrel

import (
	"fmt"
	"io"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// Decoder format tags.
const (
	FormatRaw     = "raw"
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Column semantic types.
const (
	TypeBigint  = "bigint"
	TypeDouble  = "double"
	TypeBoolean = "boolean"
	TypeVarchar = "varchar"
)

// ColumnConfig declares one decoded output column. For json and msgpack
// tables Path is a dotted field path into the payload document; when empty
// the column name is used as the path. For csv tables columns map
// positionally, in declaration order.
type ColumnConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Path string `yaml:"path,omitempty"`
}

// TableConfig maps a logical table to a physical stream and a decoder
// configuration. It is read once at resolution time and is immutable for the
// duration of a query.
type TableConfig struct {
	StreamName       string         `yaml:"stream"`
	RegionName       string         `yaml:"region"`
	PartitionKeyName string         `yaml:"partition_key"`
	Format           string         `yaml:"format"`
	Separator        string         `yaml:"separator,omitempty"`
	Compression      string         `yaml:"compression,omitempty"`
	StartPosition    string         `yaml:"start_position,omitempty"`
	Columns          []ColumnConfig `yaml:"columns"`
}

type Config struct {
	Tables map[string]TableConfig
}

// TableForName resolves a logical table name to its configuration.
func (c *Config) TableForName(n string) (tc *TableConfig, err error) {
	if tcv, ok := c.Tables[n]; ok {
		return &tcv, nil
	}
	return nil, fmt.Errorf("no table configured with name %q", n)
}

// NewConfigFromFile loads and validates a YAML table catalog.
func NewConfigFromFile(r io.Reader) (c *Config, err error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	c = &Config{}
	err = yaml.Unmarshal(data, &c.Tables)
	if err != nil {
		return nil, err
	}

	for name, tc := range c.Tables {
		if err = validateTable(&tc); err != nil {
			return nil, fmt.Errorf("table %q: %v", name, err)
		}
		c.Tables[name] = tc
	}
	return
}

func validateTable(tc *TableConfig) error {
	if tc.StreamName == "" {
		return fmt.Errorf("missing stream name")
	}
	switch tc.Format {
	case FormatRaw:
		if len(tc.Columns) > 1 {
			return fmt.Errorf("raw format takes at most one column")
		}
		if len(tc.Columns) == 1 && tc.Columns[0].Type != TypeVarchar {
			return fmt.Errorf("raw format column must be varchar")
		}
	case FormatCSV, FormatJSON, FormatMsgpack:
	default:
		return fmt.Errorf("unknown format %q", tc.Format)
	}
	switch tc.Compression {
	case "", "snappy":
	default:
		return fmt.Errorf("unknown compression %q", tc.Compression)
	}
	switch tc.StartPosition {
	case "":
		tc.StartPosition = PositionTrimHorizon
	case "trim_horizon":
		tc.StartPosition = PositionTrimHorizon
	case "latest":
		tc.StartPosition = PositionLatest
	default:
		return fmt.Errorf("unknown start position %q", tc.StartPosition)
	}
	if tc.Separator == "" {
		tc.Separator = ","
	}
	seen := make(map[string]bool)
	for _, col := range tc.Columns {
		if col.Name == "" {
			return fmt.Errorf("column with empty name")
		}
		if isSyntheticColumn(col.Name) {
			return fmt.Errorf("column %q collides with an internal column", col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate column %q", col.Name)
		}
		seen[col.Name] = true
		switch col.Type {
		case TypeBigint, TypeDouble, TypeBoolean, TypeVarchar:
		default:
			return fmt.Errorf("column %q: unknown type %q", col.Name, col.Type)
		}
	}
	return nil
}
