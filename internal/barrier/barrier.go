// Package barrier implements the tick barrier (C5): the generation-counter
// rendezvous that synchronizes every live session around one rebalance
// decision per tick, described in spec.md 4.5.
//
// The original used an asyncio.Semaphore released once per generation.
// spec.md's Design Notes call that out for a redesign: a released
// semaphore can be consumed by a session that arrives in the *next*
// generation before the barrier has re-armed, letting it skip straight
// through without observing the cap meant for it. This implementation
// closes that race with an explicit generation counter: a waiter records
// the generation it arrived in and loops on a broadcast condition
// variable until that exact generation advances, so a late arrival can
// never consume a stale release.
package barrier

import "sync"

// Barrier is the bookkeeping-mutex-protected rendezvous state. Its own
// mutex is the bookkeeping mutex: the closures passed to Grow, Shrink,
// Arrive, FireTeardown and WithLock run while it is held, so callers fold
// their endpoints-map access into those closures. Barrier itself owns
// only arrivals/expected/generation.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	arrivals   int
	expected   int
	generation uint64
}

// New creates a barrier with no expected arrivals (a legal idle state
// per spec.md 3).
func New() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Grow increments expected on handshake completion. register runs while
// the bookkeeping mutex is held, so the caller can fold the endpoints-map
// insertion into the same critical section (spec.md 5).
func (b *Barrier) Grow(register func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	register()
	b.expected++
}

// Shrink decrements expected on session teardown. unregister runs while
// the bookkeeping mutex is held, so the caller can fold the endpoints-map
// removal into the same critical section. It reports whether the
// teardown itself must fire the rebalance (expected now equals arrivals,
// per spec.md 4.5's deadlock-avoidance rule).
func (b *Barrier) Shrink(unregister func()) (mustFire bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	unregister()
	b.expected--
	return b.expected == b.arrivals && b.expected >= 0
}

// Arrive registers one session's arrival at the current generation,
// mirroring spec.md 4.5's pseudocode exactly: every session (the one
// that completes the generation included) increments arrivals, fires if
// it just completed the generation, then waits for the generation to
// advance past the one it arrived in before decrementing arrivals again.
// Because the firer bumps the generation before waiting, its own wait
// returns immediately — there is no separate "firer" code path.
//
// update runs first, while the bookkeeping mutex is held, before the
// arrivals count is even incremented: it applies this session's own
// sample/refit, which per spec.md 5's ordering guarantees must
// happen-before this sample's barrier entry. Running it under the same
// mutex that guards fire's cross-endpoint read serializes it against
// every other session's update and against fire, so no goroutine ever
// observes a partially-updated endpoint.
//
// Neither update nor fire may call back into Barrier; doing so would
// deadlock on mu.
func (b *Barrier) Arrive(update func(), fire func()) {
	b.mu.Lock()
	update()

	myGeneration := b.generation
	b.arrivals++
	if b.arrivals == b.expected {
		fire()
		b.generation++
		b.cond.Broadcast()
	}

	for b.generation == myGeneration {
		b.cond.Wait()
	}
	b.arrivals--
	b.mu.Unlock()
}

// FireTeardown runs fire for a teardown-triggered rebalance (Shrink
// reported mustFire) and releases any waiters. The departing session is
// not itself an arrival, so arrivals is left untouched; the waiters it
// releases each still perform their own arrivals-- on the way out.
func (b *Barrier) FireTeardown(fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fire()
	b.generation++
	b.cond.Broadcast()
}

// Generation returns the current generation counter, for diagnostics.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// WithLock runs fn while holding the bookkeeping mutex, for callers that
// need a consistent read of state the mutex also protects (e.g. the
// endpoints map). fn must not call back into Barrier.
func (b *Barrier) WithLock(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// Snapshot returns (arrivals, expected) for diagnostics/tests.
func (b *Barrier) Snapshot() (arrivals, expected int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrivals, b.expected
}
