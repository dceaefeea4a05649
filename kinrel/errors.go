package kinrel

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// ErrStreamNotFound means the configured physical stream does not exist.
// It is fatal to the scan and surfaced to the caller immediately.
var ErrStreamNotFound = errors.New("stream not found")

// Per-record decode failures. These never abort a batch or a scan; the
// affected record is emitted with _message_valid = false and nulls for the
// fields that could not be resolved.
var (
	ErrDecodeTypeMismatch = errors.New("decode type mismatch")
	ErrDecodeFieldMissing = errors.New("decode field missing")
)

// errFetchTimeout marks a fetch that neither returned records nor an error
// within the bounded interval. It is treated as a transient failure and
// retried with the same back-off as any other service hiccup.
var errFetchTimeout = errors.New("fetch timed out")

// MalformedBatchError reports a structurally invalid GetRecords response.
// It is treated as transient: the fetch is retried from the same iterator
// position.
type MalformedBatchError struct {
	Reason string
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("malformed record batch: %s", e.Reason)
}

func isExpiredIterator(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		return awsErr.Code() == "ExpiredIteratorException"
	}
	return false
}

func isNotFound(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		return awsErr.Code() == "ResourceNotFoundException"
	}
	return false
}

func isTransient(err error) bool {
	if errors.Is(err, errFetchTimeout) {
		return true
	}
	var mbe *MalformedBatchError
	if errors.As(err, &mbe) {
		return true
	}
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case "ProvisionedThroughputExceededException",
			"ServiceUnavailable",
			"InternalFailure",
			"RequestTimeout",
			"LimitExceededException":
			return true
		}
	}
	return false
}
