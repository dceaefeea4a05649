package kinrel

import (
	"bytes"
	"testing"
)

var testCatalog = `
orders:
  stream: orders_v2
  region: us-west-1
  partition_key: order_id
  format: json
  columns:
    - name: order_id
      type: bigint
    - name: customer
      type: varchar
      path: meta.customer.name
raw_events:
  stream: events
  region: us-west-1
  format: raw
  start_position: latest
  columns:
    - name: body
      type: varchar
`

func TestNewConfigFromFile(t *testing.T) {
	r := bytes.NewBufferString(testCatalog)

	c, err := NewConfigFromFile(r)
	if err != nil {
		t.Fatal(err)
	}

	tc, err := c.TableForName("orders")
	if err != nil {
		t.Fatalf("Failed to find table")
	}

	if tc.StreamName != "orders_v2" {
		t.Errorf("StreamName mismatch")
	}
	if tc.RegionName != "us-west-1" {
		t.Errorf("RegionName mismatch")
	}
	if tc.Format != FormatJSON {
		t.Errorf("Format mismatch")
	}
	if tc.StartPosition != PositionTrimHorizon {
		t.Errorf("expected default start position, got %q", tc.StartPosition)
	}
	if tc.Separator != "," {
		t.Errorf("expected default separator")
	}
	if tc.Columns[1].Path != "meta.customer.name" {
		t.Errorf("column path mismatch")
	}

	tc, err = c.TableForName("raw_events")
	if err != nil {
		t.Fatalf("Failed to find table")
	}
	if tc.StartPosition != PositionLatest {
		t.Errorf("expected LATEST start position, got %q", tc.StartPosition)
	}
}

func TestMissingTable(t *testing.T) {
	c := Config{}

	_, err := c.TableForName("foo")
	if err == nil {
		t.Errorf("Missing error")
	}
}

func TestConfigRejectsBadTables(t *testing.T) {
	bad := []string{
		// unknown format
		"t:\n  stream: s\n  format: avro\n",
		// raw with two columns
		"t:\n  stream: s\n  format: raw\n  columns:\n    - {name: a, type: varchar}\n    - {name: b, type: varchar}\n",
		// column colliding with an internal column
		"t:\n  stream: s\n  format: json\n  columns:\n    - {name: _shard_id, type: varchar}\n",
		// unknown column type
		"t:\n  stream: s\n  format: json\n  columns:\n    - {name: a, type: decimal}\n",
		// duplicate column
		"t:\n  stream: s\n  format: json\n  columns:\n    - {name: a, type: bigint}\n    - {name: a, type: bigint}\n",
		// missing stream
		"t:\n  format: json\n",
		// unknown start position
		"t:\n  stream: s\n  format: json\n  start_position: yesterday\n",
	}

	for i, y := range bad {
		_, err := NewConfigFromFile(bytes.NewBufferString(y))
		if err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
