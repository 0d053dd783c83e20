// Package entry implements the lock-word-level Entry/Exit Protocol: the
// state machine MonitorEnter/MonitorExit in monitor.cc drive, branching on
// the lock word's current state and only inflating to a Monitor Record when
// thin-lock recursion would overflow, when ownership is contended enough to be
// worth spinning, suspending the owner, and installing a real mutex, or when
// the owner calls wait() and needs a wait set.
package entry

import (
	"time"

	"github.com/kolkov/objmonitor/internal/sync/introspect"
	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/internal/sync/monitorerr"
	"github.com/kolkov/objmonitor/internal/sync/record"
	"github.com/kolkov/objmonitor/internal/sync/registry"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

// SpinLimit bounds how many times Enter spins on a contended thin lock
// before escalating to the suspend-and-inflate path.
const SpinLimit = 50

// SpinSleep is how long Enter sleeps between spins, matching the short
// backoff monitor.cc uses while waiting for a thin lock to clear.
const SpinSleep = time.Microsecond

// Enter acquires obj for self, blocking as needed. It never returns an
// error: contention is resolved by blocking or inflating, never rejected.
func Enter(threads *threadtable.Registry, monitors *registry.Registry, self *threadtable.Thread, obj *lockword.Field, objRef threadtable.ObjectRef) {
	self.SetMonitorEnterObject(threadtable.EnterTarget{Ref: objRef, Field: obj})
	defer self.ClearMonitorEnterObject()

	selfTID := self.TID()
	spins := 0
	for {
		w := obj.Load()
		d := lockword.Decode(w)
		switch d.State {
		case lockword.Unlocked:
			if obj.CAS(w, lockword.EncodeThin(selfTID, 0)) {
				return
			}

		case lockword.ThinLocked:
			if d.OwnerTID == selfTID {
				self.CheckSuspend() // safepoint before an owner-private plain store
				if obj.Load() != w {
					continue // inflated on our behalf while suspended
				}
				if d.Recursion < lockword.ThinMax {
					obj.Store(lockword.EncodeThin(selfTID, d.Recursion+1))
					return
				}
				inflate(monitors, self, self, obj, objRef)
				continue
			}
			if spins < SpinLimit {
				spins++
				time.Sleep(SpinSleep)
				continue
			}
			spins = 0
			self.SetState(threadtable.Blocked)
			attemptSuspendAndInflate(threads, monitors, self, obj, objRef, w, d)
			self.SetState(threadtable.Runnable)

		case lockword.FatLocked:
			rec, ok := monitors.Lookup(d.MonitorID)
			if !ok {
				monitorerr.Raise("fat lock word references unknown monitor id %d", d.MonitorID)
			}
			rec.Lock(self)
			return

		default:
			monitorerr.Raise("lock word in impossible state during enter")
		}
	}
}

// attemptSuspendAndInflate implements the contended thin-lock path: suspend
// the observed owner, confirm the word has not changed underneath us, and
// inflate on its behalf. If the owner cannot be suspended in time (it may
// have already released the lock and be off doing unrelated work), this is
// a no-op and the caller's loop simply retries.
func attemptSuspendAndInflate(threads *threadtable.Registry, monitors *registry.Registry, self *threadtable.Thread, obj *lockword.Field, objRef threadtable.ObjectRef, observed lockword.Word, observedDecoded lockword.Decoded) {
	if obj.Load() != observed {
		return
	}
	owner, ok := threads.Suspend(observedDecoded.OwnerTID)
	if !ok {
		return
	}
	defer threads.Resume(owner)

	w := obj.Load()
	d := lockword.Decode(w)
	if d.State == lockword.ThinLocked && d.OwnerTID == observedDecoded.OwnerTID {
		inflate(monitors, self, owner, obj, objRef)
	}
}

// inflate installs a Monitor Record for a thin-locked obj still owned by
// owner, carrying over its recursion count, then CASes the lock word to
// point at the new record. On a lost race (the word changed underneath it)
// the freshly built record is simply discarded.
func inflate(monitors *registry.Registry, self, owner *threadtable.Thread, obj *lockword.Field, objRef threadtable.ObjectRef) {
	rec := record.New(owner, objRef)
	rec.SetID(monitors.NewID())

	w := obj.Load()
	d := lockword.Decode(w)
	if d.State != lockword.ThinLocked || d.OwnerTID != owner.TID() {
		return
	}
	rec.SetRecursion(d.Recursion)

	if !obj.CAS(w, lockword.EncodeFat(rec.ID())) {
		return
	}
	monitors.Add(rec)
}

// Exit releases one level of recursion held by self on obj. It returns an
// IllegalMonitorStateError, built from introspect's failed-unlock
// diagnostic, if self does not currently hold the lock.
func Exit(threads *threadtable.Registry, monitors *registry.Registry, self *threadtable.Thread, obj *lockword.Field, objRef threadtable.ObjectRef) error {
	w := obj.Load()
	d := lockword.Decode(w)
	switch d.State {
	case lockword.Unlocked:
		return failedUnlock(objRef, self.TID(), threadtable.InvalidTID, false, threadtable.InvalidTID, false)

	case lockword.ThinLocked:
		if d.OwnerTID != self.TID() {
			var foundTID uint32 = threadtable.InvalidTID
			var hadFound bool
			// Lookup itself holds the thread registry's lock for the read.
			if t, ok := threads.Lookup(d.OwnerTID); ok {
				foundTID, hadFound = t.TID(), true
			}
			return failedUnlock(objRef, self.TID(), foundTID, hadFound, threadtable.InvalidTID, false)
		}
		self.CheckSuspend() // safepoint before an owner-private plain store
		if obj.Load() != w {
			// Inflated on our behalf while suspended: release the fat lock.
			return Exit(threads, monitors, self, obj, objRef)
		}
		if d.Recursion > 0 {
			obj.Store(lockword.EncodeThin(d.OwnerTID, d.Recursion-1))
		} else {
			obj.Store(lockword.EncodeUnlocked())
		}
		return nil

	case lockword.FatLocked:
		rec, ok := monitors.Lookup(d.MonitorID)
		if !ok {
			monitorerr.Raise("fat lock word references unknown monitor id %d", d.MonitorID)
		}
		foundTID, hadFound, unlockOK := rec.Unlock(self)
		if unlockOK {
			return nil
		}
		var currentTID uint32 = threadtable.InvalidTID
		var hadCurrent bool
		threads.Diagnose(func() {
			if owner := rec.Owner(); owner != nil {
				currentTID, hadCurrent = owner.TID(), true
			}
		})
		return failedUnlock(objRef, self.TID(), foundTID, hadFound, currentTID, hadCurrent)

	default:
		monitorerr.Raise("lock word in impossible state during exit")
		return nil
	}
}

// WaitOn implements wait() at the lock-word level: a thin lock held solely
// by self must first be inflated (a thread can only wait on a fat monitor,
// since the wait set lives there), after which the call delegates to the
// Monitor Record's Wait.
func WaitOn(threads *threadtable.Registry, monitors *registry.Registry, self *threadtable.Thread, obj *lockword.Field, objRef threadtable.ObjectRef, ms int64, ns int32, interruptible bool, reason threadtable.RunState) error {
	w := obj.Load()
	d := lockword.Decode(w)
	switch d.State {
	case lockword.Unlocked:
		return monitorerr.IllegalMonitorState("object not locked by thread before wait()")
	case lockword.ThinLocked:
		if d.OwnerTID != self.TID() {
			return monitorerr.IllegalMonitorState("object not locked by thread before wait()")
		}
		inflate(monitors, self, self, obj, objRef)
		w = obj.Load()
		d = lockword.Decode(w)
	}
	if d.State != lockword.FatLocked {
		monitorerr.Raise("wait() could not inflate a thin lock it holds exclusively")
	}
	rec, ok := monitors.Lookup(d.MonitorID)
	if !ok {
		monitorerr.Raise("fat lock word references unknown monitor id %d", d.MonitorID)
	}
	return rec.Wait(self, ms, ns, interruptible, reason)
}

// NotifyOn implements notify()/notifyAll() at the lock-word level. A thin
// lock has no Monitor Record and therefore no wait set, so notifying one is
// a successful no-op: nothing could possibly be waiting on it.
func NotifyOn(monitors *registry.Registry, self *threadtable.Thread, obj *lockword.Field, all bool) error {
	w := obj.Load()
	d := lockword.Decode(w)
	switch d.State {
	case lockword.Unlocked:
		return monitorerr.IllegalMonitorState("object not locked by thread before notify()")
	case lockword.ThinLocked:
		if d.OwnerTID != self.TID() {
			return monitorerr.IllegalMonitorState("object not locked by thread before notify()")
		}
		return nil
	case lockword.FatLocked:
		rec, ok := monitors.Lookup(d.MonitorID)
		if !ok {
			monitorerr.Raise("fat lock word references unknown monitor id %d", d.MonitorID)
		}
		if all {
			return rec.NotifyAll(self)
		}
		return rec.Notify(self)
	default:
		monitorerr.Raise("lock word in impossible state during notify")
		return nil
	}
}

// OwnerTIDOf resolves the thread id currently owning obj, or
// threadtable.InvalidTID if it is unlocked.
func OwnerTIDOf(monitors *registry.Registry, obj *lockword.Field) uint32 {
	tid, ok := monitors.OwnerTID(obj.Load())
	if !ok {
		return threadtable.InvalidTID
	}
	return tid
}

func failedUnlock(objRef threadtable.ObjectRef, expectedTID, foundTID uint32, hadFound bool, currentTID uint32, hadCurrent bool) error {
	return monitorerr.IllegalMonitorState("%s", introspect.FailedUnlockDiagnostic(objRef, expectedTID, foundTID, hadFound, currentTID, hadCurrent))
}
