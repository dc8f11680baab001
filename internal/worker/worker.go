// Package worker runs user task code against a long-lived module state
// (§4.C). A Worker executes one job at a time; it never recovers from a
// task failure itself, because in this system a task failure is defined to
// be the crash of the worker that ran it (§3, §4.C) — recovery and restart
// are the Worker Monitor's job (internal/monitor), not the Worker's.
//
// Grounded on worker/internal/usecase/execute_job.go (one Execute call per
// job, wrapping the actual user computation) and
// worker/internal/pool/pool.go's per-job metrics/logging around that call.
package worker

import (
	"fmt"
	"time"

	"github.com/shovelend/pond/internal/domain"
)

// MethodFunc implements one task method against a worker's state.
//
// A returned error is deliberately NOT treated as an ordinary result: this
// system's failure model (unlike typical idiomatic Go) requires that a
// failing task crash the worker that ran it, so Dispatch converts a non-nil
// error into a panic before it ever reaches a caller. This is a conscious
// departure from "errors are values" made to stay faithful to §4.C; the
// alternative — letting MethodFunc return an error Result normally — would
// silently break the crash/respawn/failure-mode machinery the rest of the
// pool depends on.
type MethodFunc func(state any, task domain.Task) (any, error)

// UserModule is user code a Worker dispatches tasks into. Init runs once
// when a Worker is created and again on every respawn after a crash (§4.D);
// its return value becomes the state every subsequent MethodFunc call
// receives.
type UserModule interface {
	Init(args any) (any, error)
	Methods() map[string]MethodFunc
}

// Worker executes jobs one at a time against a UserModule's state.
type Worker struct {
	module UserModule
	state  any
}

// New initializes module with args, producing a ready Worker.
func New(module UserModule, args any) (*Worker, error) {
	state, err := module.Init(args)
	if err != nil {
		return nil, fmt.Errorf("worker: init: %w: %w", domain.ErrInitFailed, err)
	}
	return &Worker{module: module, state: state}, nil
}

// Dispatch runs job.Task against the worker's state.
//
// It never recovers: a MethodFunc panic, an unknown method name, or a
// MethodFunc error (converted to a panic, see MethodFunc) all propagate out
// of Dispatch unrecovered. Callers needing to contain that crash — the
// Worker Monitor — must invoke Dispatch inside its own goroutine with its
// own recover.
func (w *Worker) Dispatch(job *domain.Job) *domain.Result {
	fn, ok := w.module.Methods()[job.Task.Method]
	if !ok {
		panic(fmt.Errorf("%w: %q", domain.ErrUnknownMethod, job.Task.Method))
	}
	value, err := fn(w.state, job.Task)
	if err != nil {
		panic(err)
	}
	return &domain.Result{Value: value, CompletedAt: time.Now().UTC()}
}
