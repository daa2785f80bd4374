package cell

import (
	"context"
	"strconv"
	"sync/atomic"
)

// ThreadID identifies a native engine thread. Goroutines have no stable
// identity, so the engine tags each call chain through its context.
type ThreadID uint64

// MainThread is the identity of untagged contexts.
const MainThread ThreadID = 1

var lastThread atomic.Uint64

func init() {
	lastThread.Store(uint64(MainThread))
}

// NewThread allocates a fresh thread identity.
func NewThread() ThreadID {
	return ThreadID(lastThread.Add(1))
}

// String returns the decimal thread number.
func (t ThreadID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

type threadKey struct{}

// WithThread returns a context carrying thread identity t.
func WithThread(ctx context.Context, t ThreadID) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread identity carried by ctx, or MainThread.
func ThreadFrom(ctx context.Context) ThreadID {
	if ctx == nil {
		return MainThread
	}
	if t, ok := ctx.Value(threadKey{}).(ThreadID); ok {
		return t
	}
	return MainThread
}
