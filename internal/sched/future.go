package sched

// Waker re-offers a suspended computation to whoever polls it. Wake may be
// called from any goroutine, any number of times.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Poll is the result of one resumption: either Ready with a Value, or pending.
type Poll[T any] struct {
	Value T
	Ready bool
}

// Ready reports completion with v.
func Ready[T any](v T) Poll[T] { return Poll[T]{Value: v, Ready: true} }

// Pending reports that no progress was made.
func Pending[T any]() Poll[T] { return Poll[T]{} }

// Future is an asynchronous computation driven by repeated calls to Poll.
// A Future that returns pending is responsible for arranging a call to
// w.Wake when it can make progress again; once it returns Ready it must not
// be polled again.
type Future[T any] interface {
	Poll(w Waker) Poll[T]
}

// FutureFunc adapts a function to Future.
type FutureFunc[T any] func(w Waker) Poll[T]

func (f FutureFunc[T]) Poll(w Waker) Poll[T] { return f(w) }
