package crawler

import "errors"

// Pipeline error taxonomy. Callers classify with errors.Is; lower layers wrap
// these sentinels with context via fmt.Errorf.
var (
	// ErrTransport indicates the source site could not be fetched. Fatal to
	// the invocation; flows into the execution record's error path.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedRecord indicates a single scraped record failed
	// normalization. The record is skipped and counted; the batch continues.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrConstraintViolation indicates a write lost a uniqueness race or hit
	// a foreign key conflict. The store retries locally; only exhaustion
	// surfaces this error.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrPersistenceUnavailable indicates the database itself is unreachable.
	// Fatal to the invocation.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
