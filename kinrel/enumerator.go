package kinrel

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// ListShards returns the ids of the shards currently belonging to a stream.
// The returned set is a snapshot; later resharding is tolerated by the shard
// cursor's expiry handling.
func ListShards(svc KinesisService, streamName string) (shards []ShardID, err error) {
	resp, err := svc.DescribeStream(&kinesis.DescribeStreamInput{StreamName: aws.String(streamName)})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("stream %q: %w", streamName, ErrStreamNotFound)
		}
		return
	}

	for _, s := range resp.StreamDescription.Shards {
		shards = append(shards, ShardID(*s.ShardId))
	}
	return
}

// enumerateSplits produces one unit of scan work per shard, carrying the
// table's default starting-position policy.
func enumerateSplits(svc KinesisService, tc *TableConfig) (splits []Split, err error) {
	shards, err := ListShards(svc, tc.StreamName)
	if err != nil {
		return
	}

	for _, sid := range shards {
		splits = append(splits, Split{
			Stream:        tc.StreamName,
			ShardID:       sid,
			StartPosition: tc.StartPosition,
		})
	}
	return
}
