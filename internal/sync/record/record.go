// Package record implements the Monitor Record: the fat-lock bookkeeping a
// lock word is inflated to once thin-lock recursion overflows or ownership
// becomes contended enough to be worth a real mutex and condition variable.
//
// Layout
//
// A Record pairs one internal mutex with one condition variable
// (contenders) used for lock contention, and holds the current owner
// thread, its recursion depth, an optional profile site describing where
// the owner acquired the lock, and a singly linked wait set of parked
// threads threaded through Thread.WaitNext.
//
// Thread-Safety
//
// Every exported method takes the record's internal mutex for its own
// critical section except Wait, which must release it mid-method in a
// precise order to hand the monitor off to a contender while the waiter
// parks on its own private condition variable — see Wait's comments.
package record

import (
	"sync"
	"time"

	"github.com/kolkov/objmonitor/internal/sync/config"
	"github.com/kolkov/objmonitor/internal/sync/monitorerr"
	"github.com/kolkov/objmonitor/internal/sync/profilesite"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

// Record is one inflated (fat) lock's bookkeeping.
type Record struct {
	mu         sync.Mutex
	contenders *sync.Cond

	id int64 // 0 until SetID is called once, at registration time

	owner     *threadtable.Thread
	recursion uint32
	site      profilesite.Site

	objRef  threadtable.ObjectRef
	waitSet *threadtable.Thread // head of the linked list, via WaitNext
}

// New creates a Record for obj, already owned by owner with zero recursion.
// This is always called from the inflation path, which has already
// confirmed owner held the thin lock being inflated.
func New(owner *threadtable.Thread, obj threadtable.ObjectRef) *Record {
	r := &Record{owner: owner, objRef: obj}
	r.contenders = sync.NewCond(&r.mu)
	return r
}

// Object implements threadtable.Monitor.
func (r *Record) Object() threadtable.ObjectRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objRef
}

// SetObject updates the object reference a Record describes, used by the
// registry's Sweep when a conservative GC-equivalent relocates identities.
func (r *Record) SetObject(obj threadtable.ObjectRef) {
	r.mu.Lock()
	r.objRef = obj
	r.mu.Unlock()
}

// ID returns the registry-assigned handle this record is published under.
// Zero until SetID has been called.
func (r *Record) ID() uint64 { return uint64(r.id) }

// SetID is called exactly once, by the inflation path, before the record is
// published to the registry.
func (r *Record) SetID(id uint64) { r.id = int64(id) }

// Recursion returns the current recursion depth.
func (r *Record) Recursion() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recursion
}

// SetRecursion is called once by the inflation path to carry over the thin
// lock's recursion count.
func (r *Record) SetRecursion(n uint32) {
	r.mu.Lock()
	r.recursion = n
	r.mu.Unlock()
}

// Owner returns the current owner, or nil if unowned.
func (r *Record) Owner() *threadtable.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// OwnerTID returns the current owner's thread id, or threadtable.InvalidTID
// if unowned.
func (r *Record) OwnerTID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == nil {
		return threadtable.InvalidTID
	}
	return r.owner.TID()
}

// Site returns the profile site captured when Lock last took the monitor
// while it was free, or the zero Site if profiling was disabled then, the
// lock is free, or the owner holds it from inflation rather than via Lock.
func (r *Record) Site() profilesite.Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.site
}

// Lock acquires the monitor for self, blocking while it is held by another
// thread. Recursive acquisition by the current owner increments the
// recursion count instead of blocking.
func (r *Record) Lock(self *threadtable.Thread) {
	r.mu.Lock()
	for {
		switch {
		case r.owner == nil:
			r.owner = self
			r.recursion = 0
			if config.Get().LockProfilingThresholdMs > 0 {
				r.site = profilesite.Capture()
			} else {
				r.site = profilesite.Site{}
			}
			r.mu.Unlock()
			return
		case r.owner == self:
			r.recursion++
			r.mu.Unlock()
			return
		default:
			start := time.Now()
			r.contenders.Wait()
			r.sampleContention(self, time.Since(start))
		}
	}
}

func (r *Record) sampleContention(self *threadtable.Thread, waited time.Duration) {
	cfg := config.Get()
	threshold := cfg.LockProfilingThresholdMs
	if threshold == 0 || waited < time.Duration(threshold)*time.Millisecond {
		return
	}
	if cfg.SensitiveThread != nil && cfg.SensitiveThread() {
		return
	}
	owner := r.owner
	var ownerTID uint32 = threadtable.InvalidTID
	if owner != nil {
		ownerTID = owner.TID()
	}
	config.Logger.Printf("monitor contention: thread %d waited %s for object %v held by thread %d (acquired at %s)",
		self.TID(), waited, r.objRef, ownerTID, r.site.Format())
}

// Unlock releases one level of recursion for self. On success it returns
// ok=true. On failure (self does not currently hold the lock) it returns
// the owner observed at the moment of failure so the caller can build a
// diagnostic message; hadOwner is false if the lock was unowned.
func (r *Record) Unlock(self *threadtable.Thread) (foundOwnerTID uint32, hadOwner bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != self {
		if r.owner != nil {
			return r.owner.TID(), true, false
		}
		return threadtable.InvalidTID, false, false
	}
	if r.recursion > 0 {
		r.recursion--
		return 0, false, true
	}
	r.owner = nil
	r.site = profilesite.Site{}
	r.contenders.Signal()
	return 0, false, true
}

// Wait implements the full wait protocol: publish self into the wait set,
// release ownership, park on self's private condition variable, and on
// waking reacquire ownership before returning.
//
// The lock ordering below intentionally acquires self's wait mutex while
// still holding r's internal mutex (steps 4-5), matching monitor.cc's
// Monitor::Wait exactly: wait_mutex is this thread's own, privately owned,
// and never contended by anyone but a single concurrent notifier, so taking
// it while still holding the internal mutex cannot deadlock in practice.
// internal mutex is released immediately after, before the thread actually
// blocks.
func (r *Record) Wait(self *threadtable.Thread, ms int64, ns int32, interruptible bool, reason threadtable.RunState) error {
	r.mu.Lock()
	if r.owner != self {
		r.mu.Unlock()
		return monitorerr.IllegalMonitorState("object not locked by thread before wait()")
	}
	if ms < 0 || ns < 0 || ns > 999999 {
		r.mu.Unlock()
		return monitorerr.IllegalArgument("wait: timeout out of range (ms=%d, ns=%d)", ms, ns)
	}
	if ms == 0 && ns == 0 {
		reason = threadtable.Waiting
	}

	appendWaitSet(r, self)
	savedRecursion, savedSite := r.recursion, r.site
	r.recursion = 0
	r.owner = nil
	r.site = profilesite.Site{}

	self.SetState(reason)

	self.Lock() // step 4, still holding r.mu
	self.SetWaitMonitor(r)
	r.contenders.Signal() // step 5, first half
	r.mu.Unlock()         // step 5, second half: release internal mutex

	var wasInterrupted bool
	if self.IsInterrupted() {
		wasInterrupted = true
	} else {
		if timeout := clampTimeout(ms, ns); timeout <= 0 {
			self.WaitUntimed()
		} else {
			self.WaitTimed(timeout)
		}
		wasInterrupted = self.IsInterrupted()
	}
	self.ClearInterrupted()
	self.Unlock()
	self.SetState(threadtable.Runnable)

	self.Lock()
	self.ClearWaitMonitor()
	self.Unlock()

	r.Lock(self) // reacquire ownership through the full contention protocol
	r.mu.Lock()
	r.owner = self
	r.recursion = savedRecursion
	r.site = savedSite
	removeWaitSet(r, self)
	r.mu.Unlock()

	if wasInterrupted && interruptible {
		return &monitorerr.InterruptedError{}
	}
	return nil
}

// clampTimeout converts a (ms, ns) wait timeout to a time.Duration, clamped
// to threadtable.MaxTimedWait before the multiply rather than after: ms
// alone can be large enough that ms*time.Millisecond overflows int64
// nanoseconds and wraps negative, which would otherwise be mistaken by the
// caller for an untimed wait instead of the absurdly-long timed wait it
// actually is.
func clampTimeout(ms int64, ns int32) time.Duration {
	const maxMillis = int64(threadtable.MaxTimedWait / time.Millisecond)
	if ms >= maxMillis {
		return threadtable.MaxTimedWait
	}
	return time.Duration(ms)*time.Millisecond + time.Duration(ns)*time.Nanosecond
}

// Notify wakes at most one waiting thread, preferring the one that has
// waited longest. Returns an error if self does not hold the lock.
func (r *Record) Notify(self *threadtable.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != self {
		return monitorerr.IllegalMonitorState("object not locked by thread before notify()")
	}
	for r.waitSet != nil {
		t := popWaitSet(r)
		if notifyOne(t, r) {
			return nil
		}
	}
	return nil
}

// NotifyAll wakes every waiting thread. Returns an error if self does not
// hold the lock.
func (r *Record) NotifyAll(self *threadtable.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != self {
		return monitorerr.IllegalMonitorState("object not locked by thread before notifyAll()")
	}
	for r.waitSet != nil {
		t := popWaitSet(r)
		notifyOne(t, r)
	}
	return nil
}

// notifyOne wakes t only if it is still actually parked on r: a thread can
// be in the wait set and yet, rarely, already be on its way out (woken by
// interrupt or timeout) with wait_monitor cleared.
func notifyOne(t *threadtable.Thread, r *Record) bool {
	t.Lock()
	defer t.Unlock()
	if t.WaitMonitor() == r {
		t.WakeWaiter()
		return true
	}
	return false
}

func appendWaitSet(r *Record, t *threadtable.Thread) {
	t.WaitNext = nil
	if r.waitSet == nil {
		r.waitSet = t
		return
	}
	cur := r.waitSet
	for cur.WaitNext != nil {
		cur = cur.WaitNext
	}
	cur.WaitNext = t
}

func removeWaitSet(r *Record, t *threadtable.Thread) {
	if r.waitSet == t {
		r.waitSet = t.WaitNext
		t.WaitNext = nil
		return
	}
	for cur := r.waitSet; cur != nil; cur = cur.WaitNext {
		if cur.WaitNext == t {
			cur.WaitNext = t.WaitNext
			t.WaitNext = nil
			return
		}
	}
}

func popWaitSet(r *Record) *threadtable.Thread {
	t := r.waitSet
	r.waitSet = t.WaitNext
	t.WaitNext = nil
	return t
}
