package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewJob builds a Job for submission. from is attached only when it carries
// a non-empty Owner (§3: a From is present iff the submitter expects a
// reply); pass From{} for fire-and-forget tasks.
func NewJob(from From, task Task) (*Job, error) {
	if task.Method == "" {
		return nil, ErrUnknownMethod
	}
	j := &Job{
		ID:        uuid.New(),
		Task:      task,
		CreatedAt: time.Now().UTC(),
	}
	if from.Owner != "" {
		f := from
		j.From = &f
	}
	return j, nil
}

// Owner is an opaque submitter identity. Only the owner that created a Job
// via Async may later Yield on it (§3 invariant).
type Owner string

// From is the reply address attached to a Job when the submitter expects a
// result back. It is present iff a reply is expected.
type From struct {
	Owner     Owner     `json:"owner"`
	RequestID uuid.UUID `json:"request_id"`
}

// Result is the outcome slot filled after a Job executes.
type Result struct {
	Value       any       `json:"value,omitempty"`
	Err         string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Failed reports whether the task raised instead of completing normally.
func (r *Result) Failed() bool { return r != nil && r.Err != "" }

// AckHandle carries backend-specific acknowledgement credentials for a
// delivered Job (§3's "private" field). It is never serialized: it is
// attached locally by the Queue Producer that received the delivery, not
// carried over the wire.
type AckHandle interface {
	Ack() error
	Nack(requeue bool) error
}

// Job is the unit of work flowing through the pool.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Task      Task      `json:"task"`
	From      *From     `json:"from,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	By        string    `json:"by,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Private carries backend ack credentials. Runtime-only, never marshaled.
	Private AckHandle `json:"-"`
}

// wireJob is the on-the-wire encoding of a Job: everything except runtime
// state (By is stamped by a monitor after delivery, Result is filled after
// execution, Private never crosses the wire).
type wireJob struct {
	ID        uuid.UUID `json:"id"`
	Task      Task      `json:"task"`
	From      *From     `json:"from,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Marshal serializes a Job for publication to the durable backend (§6:
// "opaque serialization of the Job record").
func (j *Job) Marshal() ([]byte, error) {
	return json.Marshal(wireJob{ID: j.ID, Task: j.Task, From: j.From, CreatedAt: j.CreatedAt})
}

// UnmarshalJob reconstructs a Job from a backend delivery payload. By,
// Result and Private are left zero for the caller (the Queue Producer) to
// fill in from delivery metadata.
func UnmarshalJob(payload []byte) (*Job, error) {
	var w wireJob
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	return &Job{ID: w.ID, Task: w.Task, From: w.From, CreatedAt: w.CreatedAt}, nil
}
