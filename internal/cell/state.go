package cell

import (
	"fmt"

	"github.com/Iron-Ham/hostbind/internal/errors"
)

// BorrowState counts outstanding borrows of a cell.
//
// Exclusive borrows may be made inaccessible (suspended) so that the same call
// stack can borrow again while the outer exclusive borrow is parked. At most one
// exclusive borrow is accessible at any time. Once an invariant breaks the
// state is poisoned and every later operation fails with errors.ErrPoisoned.
type BorrowState struct {
	shared       int
	mut          int
	inaccessible int
	poisoned     bool
}

// SharedCount returns the number of live shared borrows.
func (s *BorrowState) SharedCount() int { return s.shared }

// MutCount returns the number of live exclusive borrows, accessible or not.
func (s *BorrowState) MutCount() int { return s.mut }

// InaccessibleCount returns the number of suspended exclusive borrows.
func (s *BorrowState) InaccessibleCount() int { return s.inaccessible }

// IsPoisoned reports whether the state broke an invariant.
func (s *BorrowState) IsPoisoned() bool { return s.poisoned }

// HasAccessible reports whether an accessible exclusive borrow exists.
func (s *BorrowState) HasAccessible() bool {
	return s.mut-s.inaccessible == 1
}

func (s *BorrowState) poison(reason string) error {
	s.poisoned = true
	return fmt.Errorf("%w: %s", errors.ErrPoisoned, reason)
}

func conflict(reason string) error {
	return fmt.Errorf("%w: %s", errors.ErrBorrowConflict, reason)
}

func (s *BorrowState) check() error {
	if s.poisoned {
		return errors.ErrPoisoned
	}
	if n := s.mut - s.inaccessible; n < 0 || n > 1 {
		return s.poison("more than one accessible exclusive borrow")
	}
	return nil
}

// IncrementShared records a new shared borrow.
func (s *BorrowState) IncrementShared() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.HasAccessible() {
		return 0, conflict("cannot borrow while accessible mutable borrow exists")
	}
	s.shared++
	return s.shared, nil
}

// DecrementShared releases a shared borrow.
func (s *BorrowState) DecrementShared() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.shared == 0 {
		return 0, conflict("cannot decrement shared counter when no shared reference exists")
	}
	if s.HasAccessible() {
		return 0, s.poison("shared reference tracked while accessible mutable reference exists")
	}
	s.shared--
	return s.shared, nil
}

// IncrementMut records a new exclusive borrow.
func (s *BorrowState) IncrementMut() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.HasAccessible() {
		return 0, conflict("cannot borrow while accessible mutable borrow exists")
	}
	if s.shared != 0 {
		return 0, conflict("cannot borrow mutable while shared borrow exists")
	}
	s.mut++
	return s.mut, nil
}

// DecrementMut releases the accessible exclusive borrow.
func (s *BorrowState) DecrementMut() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.mut == 0 {
		return 0, conflict("cannot decrement mutable counter when no mutable reference exists")
	}
	if s.mut == s.inaccessible {
		return 0, conflict("cannot decrement mutable counter when current mutable reference is inaccessible")
	}
	if s.mut-1 != s.inaccessible {
		return 0, s.poison("inaccessible count does not fit its invariant")
	}
	s.mut--
	return s.mut, nil
}

// SetInaccessible suspends the accessible exclusive borrow.
func (s *BorrowState) SetInaccessible() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if !s.HasAccessible() {
		return 0, conflict("cannot set current reference as inaccessible when no accessible reference exists")
	}
	s.inaccessible++
	return s.inaccessible, nil
}

// UnsetInaccessible makes the most recently suspended exclusive borrow
// accessible again. All borrows taken while it was suspended must be gone.
func (s *BorrowState) UnsetInaccessible() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if s.HasAccessible() {
		return 0, conflict("cannot set current reference as accessible when an accessible mutable reference already exists")
	}
	if s.shared > 0 {
		return 0, conflict("cannot set current reference as accessible when a shared reference exists")
	}
	if s.inaccessible == 0 {
		return 0, conflict("cannot mark mut pointer as accessible when there are no inaccessible pointers")
	}
	s.inaccessible--
	return s.inaccessible, nil
}

// isBound reports whether any borrow, suspended or not, is outstanding.
func (s *BorrowState) isBound() bool {
	return s.shared > 0 || s.mut > 0
}
