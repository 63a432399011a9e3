package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNoPendingJobs is returned by DequeueJob when the queue is empty.
var ErrNoPendingJobs = errors.New("storage: no pending jobs")

// ErrInvalidTransition is returned when a status update would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("storage: invalid status transition")

// ErrInsufficientCredits is returned when a user cannot afford a check.
var ErrInsufficientCredits = errors.New("storage: insufficient credits")
