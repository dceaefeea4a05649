package kinrel

// Internal columns, available on every table regardless of decoder.
const (
	ShardIDColumn       = "_shard_id"
	MessageColumn       = "_message"
	MessageLengthColumn = "_message_length"
	MessageValidColumn  = "_message_valid"
	PartitionKeyColumn  = "_partition_key"
)

func isSyntheticColumn(name string) bool {
	switch name {
	case ShardIDColumn, MessageColumn, MessageLengthColumn,
		MessageValidColumn, PartitionKeyColumn:
		return true
	}
	return false
}

// Row is one output row. Values are aligned with Columns, in exactly the
// order the caller requested.
type Row struct {
	Columns []string
	Values  []Value
}

// Value returns the value of the named column, or nil if the column was not
// part of the projection.
func (r Row) Value(name string) Value {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i]
		}
	}
	return nil
}

// assembleRow merges decoded field values with the synthetic columns derived
// from the record itself. Decoded columns that failed to resolve come
// through as nil.
func assembleRow(fields map[string]Value, rec *Record, valid bool, requested []string) Row {
	values := make([]Value, len(requested))
	for i, name := range requested {
		switch name {
		case ShardIDColumn:
			values[i] = string(rec.ShardID)
		case MessageColumn:
			values[i] = string(rec.Data)
		case MessageLengthColumn:
			values[i] = int64(len(rec.Data))
		case MessageValidColumn:
			values[i] = valid
		case PartitionKeyColumn:
			values[i] = rec.PartitionKey
		default:
			values[i] = fields[name]
		}
	}
	return Row{Columns: requested, Values: values}
}
