package obj

import (
	"fmt"
	"strconv"

	"github.com/Iron-Ham/hostbind/internal/engine"
	"github.com/Iron-Ham/hostbind/internal/errors"
)

// InstanceID identifies an engine object. It is never zero. The top bit marks
// reference-counted objects.
type InstanceID uint64

// InstanceIDFromNative converts the engine's integer form. Zero means "no
// object" and yields false.
func InstanceIDFromNative(n uint64) (InstanceID, bool) {
	if n == 0 {
		return 0, false
	}
	return InstanceID(n), true
}

// InstanceIDFromInt64 converts the signed form scripts and variants use.
func InstanceIDFromInt64(n int64) (InstanceID, bool) {
	return InstanceIDFromNative(uint64(n))
}

// MustInstanceID is like InstanceIDFromNative but fatal for zero.
func MustInstanceID(n uint64) InstanceID {
	id, ok := InstanceIDFromNative(n)
	if !ok {
		errors.Fatal(fmt.Errorf("instance id 0: %w", errors.ErrNullObject))
	}
	return id
}

// IsRefCounted reports whether the object is of a reference-counted kind.
func (id InstanceID) IsRefCounted() bool {
	return uint64(id)&engine.RefCountedBit != 0
}

// Native returns the engine's integer form.
func (id InstanceID) Native() uint64 { return uint64(id) }

// Int64 returns the signed form.
func (id InstanceID) Int64() int64 { return int64(id) }

func (id InstanceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id InstanceID) GoString() string {
	return fmt.Sprintf("InstanceID(%d)", uint64(id))
}
