package kinrel

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// KinesisService is the subset of the Kinesis API the scan pipeline depends
// on. The real client and the Simulator both satisfy it.
type KinesisService interface {
	DescribeStream(*kinesis.DescribeStreamInput) (*kinesis.DescribeStreamOutput, error)
	GetShardIterator(*kinesis.GetShardIteratorInput) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(*kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error)
	PutRecords(*kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
}

// NewKinesisService returns a KinesisService backed by the real AWS client
// for the given region.
func NewKinesisService(region string) KinesisService {
	awsConfig := aws.NewConfig().WithRegion(region)
	sess := session.New(awsConfig)
	return kinesis.New(sess)
}
