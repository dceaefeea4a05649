package kinrel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/tidwall/gjson"
	"github.com/tinylib/msgp/msgp"
)

// Value is one typed column value: int64, float64, bool or string. A nil
// Value is SQL NULL.
type Value interface{}

// A Decoder converts a raw payload into typed values for the requested
// subset of a table's configured columns. A nil error means the record
// decoded cleanly; a non-nil error describes the first failure, with the
// best-effort values still returned so the row can be emitted with
// _message_valid = false. Decoding the same payload twice always yields the
// same values and verdict.
type Decoder interface {
	Decode(data []byte, columns []ColumnConfig) (map[string]Value, error)
}

// NewDecoder builds the decoder for a table's format tag, wrapping it with
// snappy decompression when configured.
func NewDecoder(tc *TableConfig) (d Decoder, err error) {
	switch tc.Format {
	case FormatRaw:
		d = &rawDecoder{}
	case FormatCSV:
		d = &csvDecoder{separator: tc.Separator, layout: tc.Columns}
	case FormatJSON:
		d = &jsonDecoder{}
	case FormatMsgpack:
		d = &msgpackDecoder{}
	default:
		return nil, fmt.Errorf("unknown format %q", tc.Format)
	}

	if tc.Compression == "snappy" {
		d = &snappyDecoder{inner: d}
	}
	return
}

// snappyDecoder decompresses the payload before handing it to the format
// decoder. A payload that does not decompress marks the record invalid.
type snappyDecoder struct {
	inner Decoder
}

func (d *snappyDecoder) Decode(data []byte, columns []ColumnConfig) (map[string]Value, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nullValues(columns), fmt.Errorf("snappy: %w", ErrDecodeTypeMismatch)
	}
	return d.inner.Decode(raw, columns)
}

// rawDecoder maps the entire payload to the table's single varchar column.
// Raw records are always valid.
type rawDecoder struct{}

func (d *rawDecoder) Decode(data []byte, columns []ColumnConfig) (map[string]Value, error) {
	values := make(map[string]Value, len(columns))
	for _, col := range columns {
		values[col.Name] = string(data)
	}
	return values, nil
}

// csvDecoder splits the payload by the configured separator and maps fields
// positionally against the table's full column list, so projecting a subset
// of columns never shifts positions. A field-count mismatch degrades the
// record to invalid rather than aborting the batch.
type csvDecoder struct {
	separator string
	layout    []ColumnConfig
}

func (d *csvDecoder) Decode(data []byte, columns []ColumnConfig) (map[string]Value, error) {
	fields := strings.Split(string(data), d.separator)
	if len(fields) != len(d.layout) {
		return nullValues(columns), fmt.Errorf("%d fields, %d columns: %w",
			len(fields), len(d.layout), ErrDecodeTypeMismatch)
	}

	position := make(map[string]int, len(d.layout))
	for i, col := range d.layout {
		position[col.Name] = i
	}

	values := make(map[string]Value, len(columns))
	var firstErr error
	for _, col := range columns {
		v, err := parseText(fields[position[col.Name]], col.Type)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %q: %w", col.Name, err)
		}
		values[col.Name] = v
	}
	return values, firstErr
}

// jsonDecoder parses the payload as a JSON document and resolves each
// column's dotted field path. A missing path or a type mismatch nulls that
// field and marks the record invalid; the other fields still decode.
type jsonDecoder struct{}

func (d *jsonDecoder) Decode(data []byte, columns []ColumnConfig) (map[string]Value, error) {
	if !gjson.ValidBytes(data) {
		return nullValues(columns), fmt.Errorf("not a json document: %w", ErrDecodeTypeMismatch)
	}

	values := make(map[string]Value, len(columns))
	var firstErr error
	for _, col := range columns {
		res := gjson.GetBytes(data, fieldPath(col))
		v, err := jsonValue(res, col.Type)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %q: %w", col.Name, err)
		}
		values[col.Name] = v
	}
	return values, firstErr
}

func jsonValue(res gjson.Result, typ string) (Value, error) {
	if !res.Exists() || res.Type == gjson.Null {
		return nil, ErrDecodeFieldMissing
	}

	switch typ {
	case TypeBigint:
		if res.Type != gjson.Number {
			return nil, ErrDecodeTypeMismatch
		}
		// Parse the raw token so overflow and fractional values are
		// rejected instead of silently truncated.
		n, err := strconv.ParseInt(res.Raw, 10, 64)
		if err != nil {
			return nil, ErrDecodeTypeMismatch
		}
		return n, nil
	case TypeDouble:
		if res.Type != gjson.Number {
			return nil, ErrDecodeTypeMismatch
		}
		f, err := strconv.ParseFloat(res.Raw, 64)
		if err != nil {
			return nil, ErrDecodeTypeMismatch
		}
		return f, nil
	case TypeBoolean:
		if res.Type != gjson.True && res.Type != gjson.False {
			return nil, ErrDecodeTypeMismatch
		}
		return res.Bool(), nil
	case TypeVarchar:
		switch res.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			return res.String(), nil
		}
		return nil, ErrDecodeTypeMismatch
	}
	return nil, ErrDecodeTypeMismatch
}

// msgpackDecoder parses the payload as a msgpack map of string keys, the
// wire format produced by MarshalMap, and resolves dotted paths through
// nested maps.
type msgpackDecoder struct{}

func (d *msgpackDecoder) Decode(data []byte, columns []ColumnConfig) (map[string]Value, error) {
	doc, extra, err := msgp.ReadMapStrIntfBytes(data, nil)
	if err != nil || len(extra) > 0 {
		return nullValues(columns), fmt.Errorf("not a msgpack map: %w", ErrDecodeTypeMismatch)
	}

	values := make(map[string]Value, len(columns))
	var firstErr error
	for _, col := range columns {
		raw, ok := resolvePath(doc, fieldPath(col))
		var v Value
		var verr error
		if !ok {
			verr = ErrDecodeFieldMissing
		} else {
			v, verr = msgpackValue(raw, col.Type)
		}
		if verr != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %q: %w", col.Name, verr)
		}
		values[col.Name] = v
	}
	return values, firstErr
}

func resolvePath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func msgpackValue(raw interface{}, typ string) (Value, error) {
	if raw == nil {
		return nil, ErrDecodeFieldMissing
	}

	switch typ {
	case TypeBigint:
		switch n := raw.(type) {
		case int64:
			return n, nil
		case uint64:
			if n > math.MaxInt64 {
				return nil, ErrDecodeTypeMismatch
			}
			return int64(n), nil
		}
	case TypeDouble:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		}
	case TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case TypeVarchar:
		switch s := raw.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	}
	return nil, ErrDecodeTypeMismatch
}

// parseText converts one delimited-text field. Overflow and non-numeric
// text are explicit mismatches, never a wrapped or truncated value.
func parseText(field, typ string) (Value, error) {
	switch typ {
	case TypeBigint:
		n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, ErrDecodeTypeMismatch
		}
		return n, nil
	case TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, ErrDecodeTypeMismatch
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(field))
		if err != nil {
			return nil, ErrDecodeTypeMismatch
		}
		return b, nil
	case TypeVarchar:
		return field, nil
	}
	return nil, ErrDecodeTypeMismatch
}

func fieldPath(col ColumnConfig) string {
	if col.Path != "" {
		return col.Path
	}
	return col.Name
}

func nullValues(columns []ColumnConfig) map[string]Value {
	values := make(map[string]Value, len(columns))
	for _, col := range columns {
		values[col.Name] = nil
	}
	return values
}
