package runner

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/casualjim/delver/pkg/stdx"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Promise is the write side of a job's outcome: exactly one of Complete or
// Error wins, later calls are ignored.
type Promise interface {
	Complete(string)
	Error(error)
}

// Future is the read side. Get blocks until the promise resolves.
type Future[T any] interface {
	Get() (T, error)
}

// CompletableFuture combines both sides for async job execution.
type CompletableFuture[T any] interface {
	Future[T]
	Promise
}

// DefaultUnmarshal returns an unmarshal function for T. Strings pass through
// unparsed and gjson.Result values are parsed lazily, everything else goes
// through JSON unmarshaling.
func DefaultUnmarshal[T any]() func([]byte) (T, error) {
	var t T
	_, isGjsonResult := any(t).(gjson.Result)
	isString := reflect.TypeFor[T]().Kind() == reflect.String

	switch {
	case isGjsonResult:
		return func(data []byte) (T, error) {
			result := gjson.ParseBytes(data)
			return any(result).(T), nil
		}
	case isString:
		return func(data []byte) (T, error) {
			return any(string(data)).(T), nil
		}
	default:
		return func(data []byte) (T, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return v, err
			}
			return v, nil
		}
	}
}

type futState struct {
	value string
	err   error
}

type futResult[T any] struct {
	result T
	err    error
	done   bool
}

type future[T any] struct {
	unmarshal func([]byte) (T, error)
	ch        chan futState
	result    atomic.Value // holds *futResult[T]
	once      sync.Once
	mu        sync.Mutex
}

// NewFuture creates a future that decodes the completed value with the given
// unmarshal function.
func NewFuture[T any](unmarshal func([]byte) (T, error)) CompletableFuture[T] {
	f := &future[T]{
		unmarshal: unmarshal,
		ch:        make(chan futState, 1),
	}
	f.result.Store(&futResult[T]{})
	return f
}

func (f *future[T]) Get() (T, error) {
	res := f.result.Load().(*futResult[T])
	if res.done {
		return res.result, res.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring lock
	res = f.result.Load().(*futResult[T])
	if res.done {
		return res.result, res.err
	}

	r := <-f.ch
	var newResult futResult[T]
	if r.err != nil {
		newResult = futResult[T]{
			result: stdx.Zero[T](),
			err:    r.err,
			done:   true,
		}
	} else {
		result, err := f.unmarshal([]byte(r.value))
		newResult = futResult[T]{
			result: result,
			err:    err,
			done:   true,
		}
	}
	f.result.Store(&newResult)
	return newResult.result, newResult.err
}

func (f *future[T]) Complete(data string) {
	f.once.Do(func() {
		f.ch <- futState{value: data}
	})
}

func (f *future[T]) Error(err error) {
	f.once.Do(func() {
		f.ch <- futState{err: err}
	})
}

// NoopPromise discards the outcome. Useful for fire-and-forget submissions
// where the caller watches events instead.
func NoopPromise() Promise {
	return noopPromise{}
}

type noopPromise struct{}

func (noopPromise) Complete(string) {}
func (noopPromise) Error(error)     {}
