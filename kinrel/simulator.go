package kinrel

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// Simulator is a deterministic in-memory stand-in for the Kinesis service.
// It preserves the shard/iterator/sequence-number contract: records are
// routed to a shard by hashing their partition key, sequence numbers are
// strictly increasing within a shard, and iterators are opaque forward-only
// tokens. Each shard's log is independently locked, so writers and readers
// on different shards never contend.
//
// Fault injection hooks (ExpireIterators, FailGetRecords, CloseShard) drive
// the failure-handling paths of the scan pipeline in tests.
type Simulator struct {
	mu      sync.RWMutex
	streams map[string]*simStream

	epoch    int64
	failures int64
}

type simStream struct {
	name   string
	order  []ShardID
	shards map[ShardID]*simShard
}

type simShard struct {
	mu      sync.Mutex
	records []simRecord
	nextSeq int64
	closed  bool
}

type simRecord struct {
	sequence     SequenceNumber
	partitionKey string
	data         []byte
	arrival      time.Time
}

func NewSimulator() *Simulator {
	return &Simulator{streams: make(map[string]*simStream)}
}

// CreateStream declares a stream with a fixed number of shards. Stream
// names must not contain ':', which the simulator uses in iterator tokens.
func (s *Simulator) CreateStream(name string, shardCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.Contains(name, ":") {
		panic("stream name must not contain ':'")
	}
	if shardCount < 1 {
		panic("stream needs at least one shard")
	}

	st := &simStream{name: name, shards: make(map[ShardID]*simShard)}
	for i := 0; i < shardCount; i++ {
		sid := ShardID(fmt.Sprintf("shardId-%012d", i))
		st.order = append(st.order, sid)
		st.shards[sid] = &simShard{}
	}
	s.streams[name] = st
}

// CloseShard marks a shard as ended, as after a split or merge. Readers
// that drain it then receive an end-of-shard marker instead of a new
// iterator.
func (s *Simulator) CloseShard(streamName string, shardID ShardID) {
	sh, err := s.shard(streamName, shardID)
	if err != nil {
		panic(err)
	}
	sh.mu.Lock()
	sh.closed = true
	sh.mu.Unlock()
}

// ExpireIterators invalidates every outstanding iterator token, simulating
// time-based iterator expiry. Tokens issued afterwards are unaffected.
func (s *Simulator) ExpireIterators() {
	atomic.AddInt64(&s.epoch, 1)
}

// FailGetRecords makes the next n GetRecords calls fail with a transient
// service error.
func (s *Simulator) FailGetRecords(n int) {
	atomic.StoreInt64(&s.failures, int64(n))
}

// ShardContents returns a copy of one shard's log, for test verification.
func (s *Simulator) ShardContents(streamName string, shardID ShardID) ([]Record, error) {
	sh, err := s.shard(streamName, shardID)
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]Record, len(sh.records))
	for i, r := range sh.records {
		out[i] = Record{
			ShardID:        shardID,
			SequenceNumber: r.sequence,
			PartitionKey:   r.partitionKey,
			Data:           r.data,
		}
	}
	return out, nil
}

func (s *Simulator) stream(name string) (*simStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[name]
	if !ok {
		return nil, awserr.New("ResourceNotFoundException",
			fmt.Sprintf("stream %q not found", name), nil)
	}
	return st, nil
}

func (s *Simulator) shard(streamName string, shardID ShardID) (*simShard, error) {
	st, err := s.stream(streamName)
	if err != nil {
		return nil, err
	}
	sh, ok := st.shards[shardID]
	if !ok {
		return nil, awserr.New("ResourceNotFoundException",
			fmt.Sprintf("shard %q not found in stream %q", shardID, streamName), nil)
	}
	return sh, nil
}

// shardForKey deterministically routes a partition key to one of n shards
// by MD5, the same hash the real service applies to partition keys.
func shardForKey(partitionKey string, n int) int {
	sum := md5.Sum([]byte(partitionKey))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

// DescribeStream implements KinesisService.
func (s *Simulator) DescribeStream(input *kinesis.DescribeStreamInput) (*kinesis.DescribeStreamOutput, error) {
	st, err := s.stream(aws.StringValue(input.StreamName))
	if err != nil {
		return nil, err
	}

	shards := make([]*kinesis.Shard, 0, len(st.order))
	for _, sid := range st.order {
		shards = append(shards, &kinesis.Shard{ShardId: aws.String(string(sid))})
	}

	return &kinesis.DescribeStreamOutput{
		StreamDescription: &kinesis.StreamDescription{
			Shards:       shards,
			StreamARN:    aws.String("arn:aws:kinesis:simulated:000000000000:stream/" + st.name),
			StreamName:   aws.String(st.name),
			StreamStatus: aws.String("ACTIVE"),
		},
	}, nil
}

// GetShardIterator implements KinesisService. Tokens encode the shard and
// the next index to read; callers must treat them as opaque.
func (s *Simulator) GetShardIterator(input *kinesis.GetShardIteratorInput) (*kinesis.GetShardIteratorOutput, error) {
	streamName := aws.StringValue(input.StreamName)
	shardID := ShardID(aws.StringValue(input.ShardId))
	sh, err := s.shard(streamName, shardID)
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var index int
	switch aws.StringValue(input.ShardIteratorType) {
	case PositionTrimHorizon:
		index = 0
	case PositionLatest:
		index = len(sh.records)
	case PositionAtSequenceNumber:
		index = indexOfSequence(sh.records, SequenceNumber(aws.StringValue(input.StartingSequenceNumber)))
	case PositionAfterSequenceNumber:
		index = indexOfSequence(sh.records, SequenceNumber(aws.StringValue(input.StartingSequenceNumber)))
		if index < len(sh.records) &&
			sh.records[index].sequence == SequenceNumber(aws.StringValue(input.StartingSequenceNumber)) {
			index++
		}
	default:
		return nil, awserr.New("InvalidArgumentException",
			fmt.Sprintf("unknown iterator type %q", aws.StringValue(input.ShardIteratorType)), nil)
	}

	token := s.newToken(streamName, shardID, index)
	return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String(token)}, nil
}

// indexOfSequence finds the first record at or after the given sequence
// number. Sequence strings are zero-padded, so lexical order is positional
// order.
func indexOfSequence(records []simRecord, sn SequenceNumber) int {
	return sort.Search(len(records), func(i int) bool {
		return records[i].sequence >= sn
	})
}

func (s *Simulator) newToken(streamName string, shardID ShardID, index int) string {
	return fmt.Sprintf("%s:%s:%d:%d", streamName, shardID, index, atomic.LoadInt64(&s.epoch))
}

func (s *Simulator) parseToken(token string) (streamName string, shardID ShardID, index int, err error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		err = awserr.New("InvalidArgumentException", "bad shard iterator", nil)
		return
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		err = awserr.New("InvalidArgumentException", "bad shard iterator", nil)
		return
	}
	epoch, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		err = awserr.New("InvalidArgumentException", "bad shard iterator", nil)
		return
	}
	if epoch != atomic.LoadInt64(&s.epoch) {
		err = awserr.New("ExpiredIteratorException", "iterator expired", nil)
		return
	}
	return parts[0], ShardID(parts[1]), index, nil
}

// GetRecords implements KinesisService. Once a closed shard is drained the
// response carries no next iterator, the end-of-shard marker.
func (s *Simulator) GetRecords(input *kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error) {
	if atomic.LoadInt64(&s.failures) > 0 && atomic.AddInt64(&s.failures, -1) >= 0 {
		return nil, awserr.New("ServiceUnavailable", "injected transient failure", nil)
	}

	streamName, shardID, index, err := s.parseToken(aws.StringValue(input.ShardIterator))
	if err != nil {
		return nil, err
	}

	sh, err := s.shard(streamName, shardID)
	if err != nil {
		return nil, err
	}

	limit := int(aws.Int64Value(input.Limit))
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if index > len(sh.records) {
		index = len(sh.records)
	}
	end := index + limit
	if end > len(sh.records) {
		end = len(sh.records)
	}

	records := make([]*kinesis.Record, 0, end-index)
	for _, r := range sh.records[index:end] {
		records = append(records, &kinesis.Record{
			SequenceNumber:              aws.String(string(r.sequence)),
			PartitionKey:                aws.String(r.partitionKey),
			Data:                        r.data,
			ApproximateArrivalTimestamp: aws.Time(r.arrival),
		})
	}

	// Milliseconds behind the tip, measured from the arrival time of the
	// oldest unread record. Zero means caught up, so a reader that is
	// behind always sees at least 1ms.
	var behindMillis int64
	if end < len(sh.records) {
		behindMillis = int64(time.Since(sh.records[end].arrival) / time.Millisecond)
		if behindMillis < 1 {
			behindMillis = 1
		}
	}

	gro := &kinesis.GetRecordsOutput{
		Records:            records,
		MillisBehindLatest: aws.Int64(behindMillis),
	}
	if sh.closed && end == len(sh.records) {
		return gro, nil // NextShardIterator nil: end of shard
	}
	gro.NextShardIterator = aws.String(s.newToken(streamName, shardID, end))
	return gro, nil
}

// PutRecords implements KinesisService. Each entry is routed by its
// partition key and appended under its shard's own lock; puts to different
// shards do not block each other.
func (s *Simulator) PutRecords(input *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
	st, err := s.stream(aws.StringValue(input.StreamName))
	if err != nil {
		return nil, err
	}

	var failed int64
	results := make([]*kinesis.PutRecordsResultEntry, len(input.Records))
	for i, entry := range input.Records {
		sid := st.order[shardForKey(aws.StringValue(entry.PartitionKey), len(st.order))]
		sh := st.shards[sid]

		sh.mu.Lock()
		if sh.closed {
			failed++
			results[i] = &kinesis.PutRecordsResultEntry{
				ErrorCode:    aws.String("InternalFailure"),
				ErrorMessage: aws.String("shard is closed"),
			}
			sh.mu.Unlock()
			continue
		}
		sh.nextSeq++
		sn := SequenceNumber(fmt.Sprintf("%020d", sh.nextSeq))
		sh.records = append(sh.records, simRecord{
			sequence:     sn,
			partitionKey: aws.StringValue(entry.PartitionKey),
			data:         entry.Data,
			arrival:      time.Now(),
		})
		sh.mu.Unlock()

		results[i] = &kinesis.PutRecordsResultEntry{
			SequenceNumber: aws.String(string(sn)),
			ShardId:        aws.String(string(sid)),
		}
	}

	return &kinesis.PutRecordsOutput{
		FailedRecordCount: aws.Int64(failed),
		Records:           results,
	}, nil
}
