// Package batch runs a unit of work over every item of a message and
// partitions the results into successes and failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ErrEmptyResult marks an item whose unit of work returned nothing rather
// than failing, for example a workout page that is no longer accessible.
var ErrEmptyResult = errors.New("empty result")

// UnitOfWork processes a single item. Implementations must not share mutable
// state between calls; calls for different items may run concurrently.
type UnitOfWork[I, R any] func(ctx context.Context, item I) (R, error)

// Emptier lets a result report itself as empty.
type Emptier interface {
	Empty() bool
}

// Failure is an item that could not be processed and the reason why.
type Failure[I any] struct {
	Item I
	Err  error
}

// Empty reports whether the item failed by returning an empty result.
func (f Failure[I]) Empty() bool { return errors.Is(f.Err, ErrEmptyResult) }

// Outcome partitions the items of one batch. Every input item appears in
// exactly one of Succeeded (as its result), Failed or Pending.
type Outcome[I, R any] struct {
	Succeeded []R
	Failed    []Failure[I]
	// Pending holds items that were never started because the context was
	// done first.
	Pending []I
}

// Complete reports whether every item was attempted.
func (o Outcome[I, R]) Complete() bool { return len(o.Pending) == 0 }

// FailedItems returns the items of the failed partition.
func (o Outcome[I, R]) FailedItems() []I {
	items := make([]I, len(o.Failed))
	for i, f := range o.Failed {
		items[i] = f.Item
	}
	return items
}

// Len is the number of items the outcome accounts for.
func (o Outcome[I, R]) Len() int {
	return len(o.Succeeded) + len(o.Failed) + len(o.Pending)
}

// Processor bounds how many units of work run at once.
type Processor struct {
	Concurrency int
}

type status int

const (
	statusPending status = iota
	statusSucceeded
	statusFailed
)

type slot[R any] struct {
	status status
	result R
	err    error
}

// Process runs work over items on p's worker pool. Each worker writes only
// to the slots of the items it takes, so results need no locking. Partition
// order follows input order.
func Process[I, R any](ctx context.Context, p Processor, items []I, work UnitOfWork[I, R]) Outcome[I, R] {
	slots := make([]slot[R], len(items))

	pool := newWorkerPool(p.Concurrency, len(items), func(ctx context.Context, i int) {
		slots[i] = run(ctx, items[i], work)
	})
	pool.Start(ctx)
	for i := range items {
		if !pool.Submit(ctx, i) {
			break
		}
	}
	pool.Stop()

	var out Outcome[I, R]
	for i, s := range slots {
		switch s.status {
		case statusSucceeded:
			out.Succeeded = append(out.Succeeded, s.result)
		case statusFailed:
			out.Failed = append(out.Failed, Failure[I]{Item: items[i], Err: s.err})
		default:
			out.Pending = append(out.Pending, items[i])
		}
	}
	return out
}

func run[I, R any](ctx context.Context, item I, work UnitOfWork[I, R]) (s slot[R]) {
	defer func() {
		if r := recover(); r != nil {
			s = slot[R]{status: statusFailed, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err := work(ctx, item)
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// interrupted, not failed
		return slot[R]{status: statusPending}
	case err != nil:
		return slot[R]{status: statusFailed, err: err}
	case isEmpty(result):
		return slot[R]{status: statusFailed, err: ErrEmptyResult}
	default:
		return slot[R]{status: statusSucceeded, result: result}
	}
}

func isEmpty[R any](result R) bool {
	if e, ok := any(result).(Emptier); ok {
		v := reflect.ValueOf(result)
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return true
		}
		return e.Empty()
	}
	v := reflect.ValueOf(&result).Elem()
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
