package kinrel

// Some types to make sure our lists of func args don't get confused
type ShardID string
type SequenceNumber string

// Shard iterator position kinds, as named by the service.
const (
	PositionTrimHorizon         = "TRIM_HORIZON"
	PositionLatest              = "LATEST"
	PositionAtSequenceNumber    = "AT_SEQUENCE_NUMBER"
	PositionAfterSequenceNumber = "AFTER_SEQUENCE_NUMBER"
)

// Record is one raw entry read from a shard.
type Record struct {
	ShardID        ShardID
	SequenceNumber SequenceNumber
	PartitionKey   string
	Data           []byte
}

// Split is the unit of parallel scan work: one shard plus its starting
// position. Splits are created by enumerateSplits per scan and each is owned
// by exactly one shard cursor.
type Split struct {
	Stream        string
	ShardID       ShardID
	StartPosition string
	StartSequence SequenceNumber
}
