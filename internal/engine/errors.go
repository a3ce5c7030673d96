package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline failure taxonomy.
var (
	// ErrInvalidURI marks input the normalizer rejected; such targets are
	// never enqueued.
	ErrInvalidURI = errors.New("invalid uri")

	// ErrFetchExhausted is terminal for a target until its freshness
	// window expires.
	ErrFetchExhausted = errors.New("fetch retries exhausted")

	// ErrUnsupportedContentType marks bytes that cannot be reduced to text.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrExtraction is terminal for that document version.
	ErrExtraction = errors.New("extraction failed")

	// ErrIndexWrite triggers rollback of the retract/upsert/write unit.
	ErrIndexWrite = errors.New("index write failed")

	// ErrQueryParse is surfaced directly to the caller.
	ErrQueryParse = errors.New("query parse failed")

	// ErrNotFound is returned by stores for unknown ids.
	ErrNotFound = errors.New("not found")
)

// FetchError wraps a fetch failure and records whether it may be retried.
type FetchError struct {
	URI       string
	Status    int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URI, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransientFetch reports whether err is a retryable fetch failure.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}
