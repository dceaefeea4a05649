package kinrel

import "testing"

func TestAssembleRowOrdering(t *testing.T) {
	rec := &Record{
		ShardID:        "shardId-000000000000",
		SequenceNumber: "00000000000000000001",
		PartitionKey:   "pk-1",
		Data:           []byte("hello"),
	}
	fields := map[string]Value{"id": int64(1), "name": "n"}
	requested := []string{"name", MessageLengthColumn, ShardIDColumn, "id", MessageValidColumn, PartitionKeyColumn, MessageColumn}

	row := assembleRow(fields, rec, true, requested)

	if len(row.Values) != len(requested) {
		t.Fatalf("expected %d values, got %d", len(requested), len(row.Values))
	}
	if row.Values[0] != "n" {
		t.Errorf("columns must follow requested order")
	}
	if row.Values[1] != int64(5) {
		t.Errorf("_message_length = %v", row.Values[1])
	}
	if row.Values[2] != "shardId-000000000000" {
		t.Errorf("_shard_id = %v", row.Values[2])
	}
	if row.Values[3] != int64(1) {
		t.Errorf("id = %v", row.Values[3])
	}
	if row.Values[4] != true {
		t.Errorf("_message_valid = %v", row.Values[4])
	}
	if row.Values[5] != "pk-1" {
		t.Errorf("_partition_key = %v", row.Values[5])
	}
	if row.Values[6] != "hello" {
		t.Errorf("_message = %v", row.Values[6])
	}

	if row.Value(MessageColumn) != "hello" {
		t.Errorf("Value lookup failed")
	}
	if row.Value("missing") != nil {
		t.Errorf("unprojected column should be nil")
	}
}

func TestAssembleRowMessageLengthMatchesMessage(t *testing.T) {
	payloads := [][]byte{nil, []byte(""), []byte("x"), []byte("longer payload \x00 with bytes")}
	for _, p := range payloads {
		rec := &Record{ShardID: "s", SequenceNumber: "1", Data: p}
		row := assembleRow(nil, rec, false, []string{MessageColumn, MessageLengthColumn, MessageValidColumn})
		msg := row.Value(MessageColumn).(string)
		if row.Value(MessageLengthColumn).(int64) != int64(len(msg)) {
			t.Errorf("_message_length %v != len(_message) %d", row.Value(MessageLengthColumn), len(msg))
		}
		if row.Value(MessageValidColumn) != false {
			t.Errorf("_message_valid should carry the decoder verdict")
		}
	}
}
