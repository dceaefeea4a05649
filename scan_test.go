package main

import (
	"io"
	"testing"
	"time"

	"github.com/IreneByron/kinrel/kinrel"
)

func simTableConfig(format string) *kinrel.TableConfig {
	return &kinrel.TableConfig{
		StreamName:    "offline",
		Format:        format,
		StartPosition: kinrel.PositionTrimHorizon,
		Separator:     ",",
		Columns: []kinrel.ColumnConfig{
			{Name: "id", Type: kinrel.TypeBigint},
			{Name: "score", Type: kinrel.TypeDouble},
			{Name: "active", Type: kinrel.TypeBoolean},
			{Name: "who", Type: kinrel.TypeVarchar, Path: "meta.who"},
		},
	}
}

func offlineScanConfig() kinrel.ScanConfig {
	return kinrel.ScanConfig{
		BatchLimit:      4,
		PollInterval:    time.Millisecond,
		EmptyFetchLimit: 2,
		RetryBudget:     5 * time.Second,
	}
}

func TestSimulateModeScansSeededStream(t *testing.T) {
	tc := simTableConfig(kinrel.FormatJSON)

	svc, err := seededSimulator(tc, 10)
	if err != nil {
		t.Fatal(err)
	}

	columns := []string{"id", "who", kinrel.MessageValidColumn, kinrel.ShardIDColumn}
	sc, err := kinrel.NewScanner(svc, tc, offlineScanConfig()).Scan(columns)
	if err != nil {
		t.Fatal(err)
	}

	ids := make(map[int64]bool)
	count := 0
	for {
		row, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("scan error: %v", err)
		}
		count++
		if row.Value(kinrel.MessageValidColumn) != true {
			t.Errorf("seeded record should decode cleanly: %v", row)
		}
		id := row.Value("id").(int64)
		if ids[id] {
			t.Errorf("duplicate id %d", id)
		}
		ids[id] = true
		if row.Value("who") == nil {
			t.Errorf("dotted-path column should be populated")
		}
	}

	if count != 10 {
		t.Fatalf("expected 10 seeded rows, got %d", count)
	}
	for i := int64(0); i < 10; i++ {
		if !ids[i] {
			t.Errorf("missing seeded id %d", i)
		}
	}
}

func TestSamplePayloadDecodesForEveryFormat(t *testing.T) {
	formats := []string{
		kinrel.FormatRaw, kinrel.FormatCSV, kinrel.FormatJSON, kinrel.FormatMsgpack,
	}

	for _, format := range formats {
		tc := simTableConfig(format)
		if format == kinrel.FormatRaw {
			tc.Columns = []kinrel.ColumnConfig{{Name: "body", Type: kinrel.TypeVarchar}}
		}

		data, err := samplePayload(tc, 3)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}

		d, err := kinrel.NewDecoder(tc)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		values, err := d.Decode(data, tc.Columns)
		if err != nil {
			t.Fatalf("%s: generated payload must decode cleanly: %v", format, err)
		}
		for _, col := range tc.Columns {
			if values[col.Name] == nil {
				t.Errorf("%s: column %q is null", format, col.Name)
			}
		}
	}
}

func TestSamplePayloadSnappyCompression(t *testing.T) {
	tc := simTableConfig(kinrel.FormatJSON)
	tc.Compression = "snappy"

	data, err := samplePayload(tc, 1)
	if err != nil {
		t.Fatal(err)
	}

	d, err := kinrel.NewDecoder(tc)
	if err != nil {
		t.Fatal(err)
	}
	values, err := d.Decode(data, tc.Columns)
	if err != nil {
		t.Fatalf("compressed payload must decode cleanly: %v", err)
	}
	if values["id"] != int64(1) {
		t.Errorf("id = %v", values["id"])
	}
}
