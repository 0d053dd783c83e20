// Package introspect answers diagnostic questions about the lock state of
// threads and objects: what is a thread waiting on, is a lock word
// well-formed, which locks does a stack frame hold, and why did an unlock
// just fail. None of it participates in the locking protocol itself; it
// only reads state the entry and record packages already maintain.
package introspect

import (
	"fmt"

	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/internal/sync/registry"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

// Frame is the minimal view of a managed stack frame VisitLocksInFrame needs
// in order to decide whether, and where, to look for held locks.
type Frame interface {
	Method() string
	IsNative() bool
	IsSynchronized() bool
	IsClassInit() bool
	DeclaringClass() threadtable.ObjectRef
	HasExceptionHandlers() bool
	CurrentOffset() uint32
	Receiver() threadtable.ObjectRef
}

// LockSite names one verifier-reported local holding a monitor at a given
// bytecode offset: a register slot, resolved through a StackWalker.
type LockSite struct {
	Offset   uint32
	Register uint16
}

// Verifier reports which registers hold synchronized locks at a given
// method offset, the way a bytecode verifier's monitor-matching pass would.
type Verifier interface {
	LocksAtOffset(method string, offset uint32) []LockSite
}

// StackWalker resolves a register in a frame to the object reference it
// currently holds.
type StackWalker interface {
	ReadReference(method string, offset uint32, reg uint16) threadtable.ObjectRef
}

// DescribeWait renders a short human-readable description of what t is
// currently doing with respect to the monitor subsystem, for stack dumps.
func DescribeWait(t *threadtable.Thread, monitors *registry.Registry) string {
	switch t.State() {
	case threadtable.Waiting, threadtable.TimedWaiting, threadtable.Sleeping:
		t.Lock()
		m := t.WaitMonitor()
		t.Unlock()
		if m == nil {
			return "runnable"
		}
		verb := "waiting on"
		if t.State() == threadtable.Sleeping {
			verb = "sleeping on"
		}
		return fmt.Sprintf("%s %v", verb, m.Object())

	case threadtable.Blocked:
		target, ok := t.MonitorEnterObject()
		if !ok {
			return "runnable"
		}
		ownerTID, haveOwner := monitors.OwnerTID(target.Field.Load())
		if !haveOwner {
			return fmt.Sprintf("waiting to lock %v", target.Ref)
		}
		return fmt.Sprintf("waiting to lock %v held by thread %d", target.Ref, ownerTID)

	default:
		return "runnable"
	}
}

// ContendedMonitorOf returns the object t is currently blocked entering, or
// parked waiting/sleeping on, preferring an in-progress Enter over a Wait
// (a thread cannot be doing both at once, but Enter is checked first since
// it is the more specific of the two during inflation's narrow window).
func ContendedMonitorOf(t *threadtable.Thread) (threadtable.ObjectRef, bool) {
	if target, ok := t.MonitorEnterObject(); ok {
		return target.Ref, true
	}
	t.Lock()
	m := t.WaitMonitor()
	t.Unlock()
	if m == nil {
		return threadtable.ObjectRef{}, false
	}
	return m.Object(), true
}

// VisitLocksInFrame calls cb once for every monitor frame appears to be
// holding: the receiver for a native synchronized method, the declaring
// class for a static initializer, and otherwise whatever the verifier
// reports as locked at the frame's current offset.
func VisitLocksInFrame(frame Frame, verifier Verifier, walker StackWalker, cb func(threadtable.ObjectRef)) {
	if frame.IsNative() && frame.IsSynchronized() {
		cb(frame.Receiver())
		return
	}
	if frame.IsClassInit() {
		cb(frame.DeclaringClass())
		return
	}
	if !frame.HasExceptionHandlers() {
		return
	}
	for _, site := range verifier.LocksAtOffset(frame.Method(), frame.CurrentOffset()) {
		cb(walker.ReadReference(frame.Method(), site.Offset, site.Register))
	}
}

// IsValidLockWord reports whether w describes a state the monitor subsystem
// could actually be in: unlocked, thin-locked by some thread, or fat-locked
// referencing a monitor the registry actually has.
func IsValidLockWord(w lockword.Word, monitors *registry.Registry) bool {
	d := lockword.Decode(w)
	switch d.State {
	case lockword.Unlocked:
		return true
	case lockword.ThinLocked:
		return d.OwnerTID != threadtable.InvalidTID
	case lockword.FatLocked:
		return monitors.Contains(d.MonitorID)
	default:
		return false
	}
}

// FailedUnlockDiagnostic renders the message for an IllegalMonitorStateError
// raised by a failed unlock, mirroring monitor.cc's FailedUnlock: the found
// owner is who Unlock observed at the moment it failed, and the current
// owner is a fresh read taken immediately after, under the thread registry's
// lock, so the two can legitimately disagree if ownership changed between
// them.
func FailedUnlockDiagnostic(obj threadtable.ObjectRef, expectedTID uint32, foundTID uint32, hadFound bool, currentTID uint32, hadCurrent bool) string {
	switch {
	case !hadFound && !hadCurrent:
		return fmt.Sprintf("thread %d unlock of %v failed: object is not locked", expectedTID, obj)
	case hadFound && !hadCurrent:
		return fmt.Sprintf("thread %d unlock of %v failed: was locked by thread %d, but is now unlocked", expectedTID, obj, foundTID)
	case !hadFound && hadCurrent:
		return fmt.Sprintf("thread %d unlock of %v failed: was not locked, but is now locked by thread %d", expectedTID, obj, currentTID)
	case foundTID != currentTID:
		return fmt.Sprintf("thread %d unlock of %v failed: was locked by thread %d, is now locked by thread %d", expectedTID, obj, foundTID, currentTID)
	default:
		return fmt.Sprintf("thread %d unlock of %v failed: locked by thread %d, not the calling thread", expectedTID, obj, foundTID)
	}
}
