// Package cell implements the dynamic borrow checker that guards payloads
// attached to engine objects.
//
// A [Cell] hands out any number of shared guards ([RefGuard]) or one
// exclusive guard ([MutGuard]), never both. Two policies exist:
//
//   - [PolicySingleThreaded]: every conflict fails immediately with a
//     *errors.BorrowError. The cell refuses borrows from any thread other than
//     its owner.
//   - [PolicyBlocking]: a request that conflicts only with borrows held by other
//     threads waits until they are released. A request that conflicts with the
//     requesting thread's own borrows still fails immediately, since the
//     conflicting guard sits higher up the same call stack and waiting would
//     deadlock.
//
// Thread identity travels in the context ([WithThread], [ThreadFrom]).
//
// An exclusive guard can be suspended ([MutGuard.Suspend]) while its holder
// calls into the engine. The engine may then call back into the same object on
// the same thread and borrow it again. Releasing the returned
// [InaccessibleGuard] makes the outer guard usable again.
//
//	g, err := c.BorrowMut(ctx)
//	if err != nil {
//	    return err
//	}
//	defer g.Release()
//	g.Get().hp -= 10
//
// Misusing a guard (double release, Get after release, Get while suspended)
// raises a fatal error through errors.Fatal.
package cell
