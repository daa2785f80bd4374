package cell

import (
	"testing"

	"github.com/Iron-Ham/hostbind/internal/errors"
)

func TestBorrowState_SharedThenMut(t *testing.T) {
	var s BorrowState

	if n, err := s.IncrementShared(); err != nil || n != 1 {
		t.Fatalf("IncrementShared() = %d, %v; want 1, nil", n, err)
	}
	if _, err := s.IncrementMut(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("IncrementMut() with shared = %v, want ErrBorrowConflict", err)
	}
	if n, err := s.DecrementShared(); err != nil || n != 0 {
		t.Fatalf("DecrementShared() = %d, %v; want 0, nil", n, err)
	}
	if n, err := s.IncrementMut(); err != nil || n != 1 {
		t.Fatalf("IncrementMut() = %d, %v; want 1, nil", n, err)
	}
	if !s.HasAccessible() {
		t.Error("HasAccessible() = false after IncrementMut")
	}
	if _, err := s.IncrementShared(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("IncrementShared() with mut = %v, want ErrBorrowConflict", err)
	}
	if _, err := s.IncrementMut(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("IncrementMut() with mut = %v, want ErrBorrowConflict", err)
	}
}

func TestBorrowState_Inaccessible(t *testing.T) {
	var s BorrowState

	if _, err := s.SetInaccessible(); err == nil {
		t.Error("SetInaccessible() without mut should fail")
	}

	mustOK := func(_ int, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mustOK(s.IncrementMut())
	mustOK(s.SetInaccessible())
	if s.HasAccessible() {
		t.Fatal("HasAccessible() = true while suspended")
	}

	// Nested borrows are allowed while the outer one is suspended.
	mustOK(s.IncrementShared())
	if _, err := s.UnsetInaccessible(); err == nil {
		t.Error("UnsetInaccessible() with nested shared should fail")
	}
	mustOK(s.DecrementShared())

	mustOK(s.IncrementMut())
	if _, err := s.DecrementMut(); err != nil {
		t.Fatalf("DecrementMut() nested = %v", err)
	}

	if _, err := s.DecrementMut(); err == nil {
		t.Error("DecrementMut() of suspended borrow should fail")
	}
	mustOK(s.UnsetInaccessible())
	mustOK(s.DecrementMut())

	if s.IsPoisoned() {
		t.Error("state poisoned after valid sequence")
	}
	if s.SharedCount() != 0 || s.MutCount() != 0 || s.InaccessibleCount() != 0 {
		t.Errorf("state not empty: %+v", s)
	}
}

func TestBorrowState_Underflow(t *testing.T) {
	var s BorrowState
	if _, err := s.DecrementShared(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("DecrementShared() on empty = %v, want ErrBorrowConflict", err)
	}
	if _, err := s.DecrementMut(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("DecrementMut() on empty = %v, want ErrBorrowConflict", err)
	}
	if _, err := s.UnsetInaccessible(); !errors.Is(err, errors.ErrBorrowConflict) {
		t.Errorf("UnsetInaccessible() on empty = %v, want ErrBorrowConflict", err)
	}
	if s.IsPoisoned() {
		t.Error("underflow should not poison")
	}
}

func TestBorrowState_Poison(t *testing.T) {
	tests := []struct {
		name  string
		state BorrowState
		op    func(*BorrowState) (int, error)
	}{
		{
			name:  "shared released while accessible mut exists",
			state: BorrowState{shared: 1, mut: 1},
			op:    (*BorrowState).DecrementShared,
		},
		{
			name:  "inaccessible count out of line",
			state: BorrowState{mut: 3, inaccessible: 1},
			op:    (*BorrowState).DecrementMut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			if _, err := tt.op(&s); !errors.Is(err, errors.ErrPoisoned) {
				t.Fatalf("op error = %v, want ErrPoisoned", err)
			}
			if !s.IsPoisoned() {
				t.Fatal("state should be poisoned")
			}
			if _, err := s.IncrementShared(); !errors.Is(err, errors.ErrPoisoned) {
				t.Errorf("IncrementShared() after poison = %v, want ErrPoisoned", err)
			}
		})
	}
}
