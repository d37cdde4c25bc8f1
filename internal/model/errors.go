package model

import "github.com/rotisserie/eris"

// Error kinds shared by the session store, the orchestrator and the API layer.
// Callers match them with errors.Is.
var (
	// ErrNotFound: unknown session, pipeline, component or job.
	ErrNotFound = eris.New("not found")
	// ErrInvalidPrecondition: the operation is not allowed in the current state.
	ErrInvalidPrecondition = eris.New("invalid precondition")
	// ErrDuplicateJob: a poll job is already active for the pipeline.
	ErrDuplicateJob = eris.New("duplicate poll job")
	// ErrUpstreamUnavailable: an external service was unreachable or returned an error.
	ErrUpstreamUnavailable = eris.New("upstream unavailable")
	// ErrStale: an update carried a revision older than the component's current one.
	ErrStale = eris.New("stale update")
)
