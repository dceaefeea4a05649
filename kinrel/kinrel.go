// Package kinrel exposes a Kinesis-style shard-partitioned stream as a
// queryable, schema-typed relation. A scan enumerates the stream's shards,
// reads each shard in parallel through its own cursor, decodes payloads
// according to the table's configured format and surfaces per-record
// metadata as synthetic columns alongside the decoded fields.
package kinrel

import "github.com/tinylib/msgp/msgp"

// MarshalMap encodes a map record as msgpack, the payload format used by
// msgpack-typed tables.
func MarshalMap(r map[string]interface{}) ([]byte, error) {
	return msgp.AppendMapStrIntf([]byte{}, r)
}

// UnmarshalMap decodes a msgpack payload produced by MarshalMap.
func UnmarshalMap(data []byte) (map[string]interface{}, error) {
	r, _, err := msgp.ReadMapStrIntfBytes(data, nil)
	return r, err
}
