package periodlog

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned by Append for a draft that cannot be
// recorded. Storage failures are not wrapped in it.
var ErrInvalidMessage = errors.New("invalid message")

// MalformedRecordError describes a record that could not be decoded. Readers
// log and skip these; they never abort a read.
type MalformedRecordError struct {
	Partition string
	Offset    int64
	Err       error
}

func (e MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record in partition %s at offset %d: %v", e.Partition, e.Offset, e.Err)
}

func (e MalformedRecordError) Unwrap() error {
	return e.Err
}
