package traffic

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidDate is returned for a job date that is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// UpstreamError is returned when the camera API cannot be reached or
// answers with a non-OK status. StatusCode is 0 for transport failures.
type UpstreamError struct {
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream %s returned %d %s: %v",
		e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StorageError wraps a failed persistence operation. The batch it belongs to
// was not applied, except on backends that commit large batches in chunks,
// where earlier chunks may remain.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError, returning nil for a nil err.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
