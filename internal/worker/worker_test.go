package worker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/worker"
)

type counterModule struct {
	initArgs any
}

func (m *counterModule) Init(args any) (any, error) {
	m.initArgs = args
	count := 0
	if n, ok := args.(int); ok {
		count = n
	}
	return &count, nil
}

func (m *counterModule) Methods() map[string]worker.MethodFunc {
	return map[string]worker.MethodFunc{
		"increment": func(state any, task domain.Task) (any, error) {
			c := state.(*int)
			*c++
			return *c, nil
		},
		"boom": func(state any, task domain.Task) (any, error) {
			return nil, errors.New("deliberate task failure")
		},
		"panics": func(state any, task domain.Task) (any, error) {
			panic("deliberate runtime panic")
		},
	}
}

func taskJob(method string) *domain.Job {
	j, _ := domain.NewJob(domain.From{}, domain.Method(method))
	return j
}

func TestDispatchReturnsMethodResult(t *testing.T) {
	m := &counterModule{}
	w, err := worker.New(m, 10)
	require.NoError(t, err)

	res := w.Dispatch(taskJob("increment"))
	require.False(t, res.Failed())
	require.Equal(t, 11, res.Value)

	res = w.Dispatch(taskJob("increment"))
	require.Equal(t, 12, res.Value, "state persists across dispatches")
}

func TestDispatchPanicsOnMethodError(t *testing.T) {
	m := &counterModule{}
	w, err := worker.New(m, 0)
	require.NoError(t, err)

	require.Panics(t, func() {
		w.Dispatch(taskJob("boom"))
	}, "a MethodFunc error must crash the dispatching goroutine, not return a failed Result")
}

func TestDispatchPanicsOnMethodPanic(t *testing.T) {
	m := &counterModule{}
	w, err := worker.New(m, 0)
	require.NoError(t, err)

	require.Panics(t, func() {
		w.Dispatch(taskJob("panics"))
	})
}

func TestDispatchPanicsOnUnknownMethod(t *testing.T) {
	m := &counterModule{}
	w, err := worker.New(m, 0)
	require.NoError(t, err)

	require.Panics(t, func() {
		w.Dispatch(taskJob("nonexistent"))
	})
}

func TestNewPropagatesInitError(t *testing.T) {
	m := &failingInitModule{}
	_, err := worker.New(m, nil)
	require.Error(t, err)
}

type failingInitModule struct{}

func (failingInitModule) Init(args any) (any, error) {
	return nil, errors.New("init failed")
}

func (failingInitModule) Methods() map[string]worker.MethodFunc { return nil }
