package kinrel

import (
	"errors"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/cenkalti/backoff"
)

// errScanStopped is returned by a cursor whose scan was cancelled. It never
// escapes the scan machinery.
var errScanStopped = errors.New("scan stopped")

// errEndOfSplit marks normal exhaustion of a split: either the shard ended
// (split/merge) or a bounded scan caught up with the shard's tip.
var errEndOfSplit = errors.New("end of split")

// shardCursor is a forward-only cursor over one shard. It owns the opaque
// service iterator for that shard and masks iterator expiry by re-deriving a
// fresh iterator after the last consumed sequence number. Fetches on one
// cursor are sequential; each depends on the iterator returned by the
// previous one.
type shardCursor struct {
	svc   KinesisService
	split Split
	cfg   ScanConfig

	nextIterator string
	lastSequence SequenceNumber
	emptyFetches int
	endOfShard   bool
	lastRequest  *time.Time
}

func newShardCursor(svc KinesisService, split Split, cfg ScanConfig) *shardCursor {
	return &shardCursor{svc: svc, split: split, cfg: cfg}
}

// Next returns the next non-empty batch of records from the shard, in
// sequence-number order. It returns errEndOfSplit once the split is
// exhausted and errScanStopped if done closes while waiting between fetches.
func (c *shardCursor) Next(done <-chan struct{}) (records []Record, err error) {
	for {
		if c.endOfShard {
			return nil, errEndOfSplit
		}

		if err = c.wait(done); err != nil {
			return
		}

		gro, err := c.fetch()
		if err != nil {
			return nil, err
		}

		if gro.NextShardIterator == nil {
			// The shard was split or merged. A bounded scan does not chase
			// successor shards.
			c.endOfShard = true
		} else {
			c.nextIterator = *gro.NextShardIterator
		}

		if len(gro.Records) == 0 {
			if c.endOfShard {
				return nil, errEndOfSplit
			}
			if gro.MillisBehindLatest != nil && *gro.MillisBehindLatest == 0 {
				c.emptyFetches++
				if c.emptyFetches >= c.cfg.EmptyFetchLimit {
					return nil, errEndOfSplit
				}
			}
			continue
		}

		c.emptyFetches = 0
		for _, kr := range gro.Records {
			records = append(records, Record{
				ShardID:        c.split.ShardID,
				SequenceNumber: SequenceNumber(*kr.SequenceNumber),
				PartitionKey:   aws.StringValue(kr.PartitionKey),
				Data:           kr.Data,
			})
		}
		c.lastSequence = records[len(records)-1].SequenceNumber
		return records, nil
	}
}

// wait enforces the poll interval between service calls so an empty shard is
// never busy-polled. The delay is cut short if the scan is cancelled.
func (c *shardCursor) wait(done <-chan struct{}) error {
	if c.lastRequest != nil {
		sleepTime := c.cfg.PollInterval - time.Since(*c.lastRequest)
		if sleepTime > 0 {
			t := time.NewTimer(sleepTime)
			defer t.Stop()
			select {
			case <-t.C:
			case <-done:
				return errScanStopped
			}
		}
	}

	n := time.Now()
	c.lastRequest = &n
	return nil
}

// fetch performs one GetRecords call, retrying transient failures with
// exponential back-off until the retry budget is exhausted. An expired
// iterator is recovered inside the retry loop and is invisible to the
// caller; a malformed batch is retried from the same iterator position.
func (c *shardCursor) fetch() (gro *kinesis.GetRecordsOutput, err error) {
	op := func() error {
		if c.nextIterator == "" {
			if ierr := c.initIterator(); ierr != nil {
				if isTransient(ierr) {
					return ierr
				}
				return backoff.Permanent(ierr)
			}
		}

		out, gerr := c.getRecordsBounded(&kinesis.GetRecordsInput{
			Limit:         aws.Int64(c.cfg.BatchLimit),
			ShardIterator: aws.String(c.nextIterator),
		})
		if gerr != nil {
			if isExpiredIterator(gerr) {
				// Re-derive from the last consumed sequence number and
				// retry. No records are lost: everything before
				// lastSequence has already been handed out.
				c.nextIterator = ""
				return gerr
			}
			if isTransient(gerr) {
				return gerr
			}
			return backoff.Permanent(gerr)
		}

		if verr := validateBatch(out); verr != nil {
			// Do not advance the iterator; refetch the same position.
			return verr
		}

		gro = out
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = c.cfg.RetryBudget

	err = backoff.Retry(op, eb)
	return
}

// getRecordsBounded issues one GetRecords call with a deadline. A call that
// hangs without producing records or an error surfaces as errFetchTimeout
// and goes through the transient-retry path; the abandoned call's result is
// discarded when it eventually lands.
func (c *shardCursor) getRecordsBounded(input *kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error) {
	type fetchResult struct {
		out *kinesis.GetRecordsOutput
		err error
	}
	res := make(chan fetchResult, 1)
	go func() {
		out, err := c.svc.GetRecords(input)
		res <- fetchResult{out, err}
	}()

	t := time.NewTimer(c.cfg.FetchTimeout)
	defer t.Stop()
	select {
	case r := <-res:
		return r.out, r.err
	case <-t.C:
		return nil, errFetchTimeout
	}
}

// initIterator obtains a fresh iterator for the cursor's position. Once any
// record has been consumed the cursor always resumes after the last
// sequence number, regardless of the split's original starting position.
func (c *shardCursor) initIterator() (err error) {
	gsi := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(c.split.Stream),
		ShardId:    aws.String(string(c.split.ShardID)),
	}

	switch {
	case c.lastSequence != "":
		gsi.ShardIteratorType = aws.String(PositionAfterSequenceNumber)
		gsi.StartingSequenceNumber = aws.String(string(c.lastSequence))
	case c.split.StartPosition == PositionAtSequenceNumber && c.split.StartSequence != "":
		gsi.ShardIteratorType = aws.String(PositionAtSequenceNumber)
		gsi.StartingSequenceNumber = aws.String(string(c.split.StartSequence))
	default:
		gsi.ShardIteratorType = aws.String(c.split.StartPosition)
	}

	gso, err := c.svc.GetShardIterator(gsi)
	if err != nil {
		return err
	}
	if gso.ShardIterator == nil {
		return &MalformedBatchError{Reason: "no shard iterator in response"}
	}
	c.nextIterator = *gso.ShardIterator
	return
}

func validateBatch(gro *kinesis.GetRecordsOutput) error {
	if gro == nil {
		return &MalformedBatchError{Reason: "empty response"}
	}
	for _, kr := range gro.Records {
		if kr == nil || kr.SequenceNumber == nil || kr.Data == nil {
			return &MalformedBatchError{Reason: "truncated record entry"}
		}
	}
	return nil
}
