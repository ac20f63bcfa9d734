// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidRepoFormat is returned when a repository string in the config is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// NotFoundError is returned when a repository or branch is not registered in
// the local store. The run is aborted before any remote call is made.
type NotFoundError struct {
	Kind string // "repository" or "branch"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in local store", e.Kind, e.Name)
}

// RemoteAPIError wraps an error from the remote hosting API. It aborts the
// current (repository, branch) run only; other pairs in the job continue.
type RemoteAPIError struct {
	Op  string
	Err error
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote API error during %s: %v", e.Op, e.Err)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// ErrStorageExhausted marks the out-of-disk condition. Unlike ordinary
// per-branch failures, it aborts the entire multi-branch job.
var ErrStorageExhausted = errors.New("storage exhausted: no space left on device")

// ErrAlreadyRunning is the negative acknowledgment to a start call while an
// ingestion run holds the exclusive slot.
var ErrAlreadyRunning = errors.New("an ingestion run is already in progress")

// ErrNoActiveRun is returned by cancel calls when the slot is idle.
var ErrNoActiveRun = errors.New("no ingestion run in progress")
