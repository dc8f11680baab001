package domain

// TaskKind distinguishes the three task shapes §3 allows.
type TaskKind int

const (
	// TaskCallable is a nullary named callable, invoked with user_state only.
	// Raw closures cannot cross the wire, so "nullary callable" is modeled
	// as a named entry in the user module's method table, same as
	// TaskMethod below.
	TaskCallable TaskKind = iota
	// TaskMethod invokes module.method(user_state).
	TaskMethod
	// TaskMethodArgs invokes module.method(args..., user_state).
	TaskMethodArgs
)

// Task is the opaque unit of work carried by a Job.
type Task struct {
	Kind   TaskKind `json:"kind"`
	Method string   `json:"method"`
	Args   []any    `json:"args,omitempty"`
}

// Callable builds a nullary-callable task referencing a named method.
func Callable(name string) Task { return Task{Kind: TaskCallable, Method: name} }

// Method builds a named-method task with no extra arguments.
func Method(name string) Task { return Task{Kind: TaskMethod, Method: name} }

// MethodArgs builds a {method, args} task.
func MethodArgs(name string, args ...any) Task {
	return Task{Kind: TaskMethodArgs, Method: name, Args: args}
}
