package domain

import "errors"

// Errors surfaced by the core lifecycle (§7).
var (
	// ErrOwnerMismatch is returned synchronously when a caller other than
	// job.From.Owner attempts to Yield.
	ErrOwnerMismatch = errors.New("pond: yield called by non-owner")

	// ErrYieldTimeout is returned when Yield's timeout elapses with no reply.
	ErrYieldTimeout = errors.New("pond: yield timed out")

	// ErrNoReplyExpected is returned when Yield is called on a job enqueued
	// with reply=false.
	ErrNoReplyExpected = errors.New("pond: job has no reply address")

	// ErrNoQueue is returned when a pool has no live queue producer to
	// enqueue against or ack through.
	ErrNoQueue = errors.New("pond: no queue producer available in pool")

	// ErrPoolNotFound names an unknown pool. No operation in this module
	// returns it: an unknown pool has no queue producer, so Async and Status
	// report ErrNoQueue instead.
	ErrPoolNotFound = errors.New("pond: pool not found")

	// ErrFilterUnsupported names a backend that cannot snapshot its contents
	// without consuming them (§4.B: "backend-permitting"). The backends in
	// this module return backend.ErrFilterUnsupported, not this value.
	ErrFilterUnsupported = errors.New("pond: backend does not support filter")

	// ErrInitFailed marks a worker that failed user Init (§7).
	ErrInitFailed = errors.New("pond: worker init failed")

	// ErrUnknownMethod is raised as a worker panic when a Job references a
	// method the user module does not expose, and returned by NewJob for a
	// task with an empty method name.
	ErrUnknownMethod = errors.New("pond: unknown task method")

	// ErrJobNotFound is returned when a job audit lookup addresses an
	// unknown job ID.
	ErrJobNotFound = errors.New("pond: job not found")
)
