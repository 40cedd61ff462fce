// A lock on a ref name makes sure that updates of the same ref do not
// interleave between clones of a transaction.
//
// The locks are a map from name to channel, guarded by a channel of capacity
// one holding the map. Locking a name:
//  1. take the map from the guard channel
//  2. if the name has a channel, put the map back, wait until the channel
//     is closed, then go to 1.
//  3. otherwise create a channel for the name, put the map back and return
//     the unlock function
//
// Unlocking takes the map, deletes the name, closes its channel to wake up the
// waiters, and puts the map back.

package cache

import "context"

type emptyForChan struct{}

type refLocks struct {
	guard chan map[string]chan emptyForChan
}

func newRefLocks() *refLocks {
	l := &refLocks{guard: make(chan map[string]chan emptyForChan, 1)}
	l.guard <- make(map[string]chan emptyForChan)
	return l
}

func (l *refLocks) lock(ctx context.Context, name string) (func(), error) {
	var m map[string]chan emptyForChan
	select {
	case m = <-l.guard:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c, found := m[name]
waitloop:
	for {
		if !found {
			break waitloop
		}

		l.guard <- m

		select {
		case <-c:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case m = <-l.guard:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c, found = m[name]
	}

	closer := make(chan emptyForChan)
	m[name] = closer
	l.guard <- m

	return func() {
		m := <-l.guard
		delete(m, name)
		close(closer)
		l.guard <- m
	}, nil
}

// LockRef waits until no other clone of the transaction holds the lock on the
// ref name and takes it. The returned function releases the lock.
func (t *Transaction) LockRef(ctx context.Context, name string) (func(), error) {
	return t.locks.lock(ctx, name)
}
