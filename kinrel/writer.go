package kinrel

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/cenkalti/backoff"
)

// ProducerRecord is one entry for the producer-side write path, used for
// test setup and the CLI's put command.
type ProducerRecord struct {
	PartitionKey string
	Data         []byte
}

// Writer is a synchronous batch producer for one stream.
type Writer interface {
	WriteRecords(rs ...ProducerRecord) error
	WriteMaps(partitionKeyName string, rs ...map[string]interface{}) error
}

// NewWriter returns a Writer for the given stream.
//
// Writes are expected to take ~100ms. Upon error, WriteRecords retries with
// exponential backoff. Care must be taken to protect against unwanted
// blocking.
func NewWriter(svc KinesisService, streamName string) Writer {
	return &writer{
		svc:            svc,
		streamName:     streamName,
		maxBackoffWait: 2 * time.Minute,
	}
}

type writer struct {
	svc        KinesisService
	streamName string

	maxBackoffWait time.Duration
}

func (w *writer) WriteRecords(rs ...ProducerRecord) error {
	entries := make([]*kinesis.PutRecordsRequestEntry, len(rs))
	for i, r := range rs {
		entries[i] = &kinesis.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(r.PartitionKey),
		}
	}

	params := &kinesis.PutRecordsInput{
		Records:    entries,
		StreamName: aws.String(w.streamName),
	}

	writeOp := func() error {
		out, err := w.svc.PutRecords(params)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if n := aws.Int64Value(out.FailedRecordCount); n > 0 {
			return backoff.Permanent(fmt.Errorf("%d record(s) rejected by stream %q", n, w.streamName))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = w.maxBackoffWait

	return backoff.Retry(writeOp, eb)
}

// WriteMaps encodes map records as msgpack, partitioning each by the value
// of the named key.
func (w *writer) WriteMaps(partitionKeyName string, rs ...map[string]interface{}) error {
	records := make([]ProducerRecord, len(rs))
	for i, r := range rs {
		val, ok := r[partitionKeyName]
		if !ok {
			return fmt.Errorf("partition key %q does not exist", partitionKeyName)
		}

		data, err := MarshalMap(r)
		if err != nil {
			return err
		}

		records[i] = ProducerRecord{
			PartitionKey: fmt.Sprintf("%v", val),
			Data:         data,
		}
	}
	return w.WriteRecords(records...)
}
