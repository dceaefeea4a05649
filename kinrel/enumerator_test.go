package kinrel

import (
	"errors"
	"testing"
)

func TestListShards(t *testing.T) {
	sim := NewSimulator()
	sim.CreateStream("ts", 3)

	shards, err := ListShards(sim, "ts")
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 3 {
		t.Fatalf("expected 3 shards, got %d", len(shards))
	}
}

func TestListShardsMissingStream(t *testing.T) {
	sim := NewSimulator()

	_, err := ListShards(sim, "nope")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestEnumerateSplits(t *testing.T) {
	sim := NewSimulator()
	sim.CreateStream("ts", 2)

	tc := rawTable("ts")
	tc.StartPosition = PositionLatest

	splits, err := enumerateSplits(sim, tc)
	if err != nil {
		t.Fatal(err)
	}
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}

	seen := make(map[ShardID]bool)
	for _, split := range splits {
		if split.Stream != "ts" {
			t.Errorf("bad stream name %q", split.Stream)
		}
		if split.StartPosition != PositionLatest {
			t.Errorf("split must carry the table's starting position")
		}
		if seen[split.ShardID] {
			t.Errorf("shard %s appears in more than one split", split.ShardID)
		}
		seen[split.ShardID] = true
	}
}
