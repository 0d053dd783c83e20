// Package monitor is the public face of the two-tier thin/fat object lock
// subsystem: a thin veneer over internal/sync's lockword, threadtable,
// entry, registry, and introspect packages, exposing just enough typed
// surface for a caller to never need to import internal/sync directly.
package monitor

import (
	"github.com/kolkov/objmonitor/internal/sync/config"
	"github.com/kolkov/objmonitor/internal/sync/entry"
	"github.com/kolkov/objmonitor/internal/sync/introspect"
	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/internal/sync/registry"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

// ObjectRef is the opaque identity of a synchronized object.
type ObjectRef = threadtable.ObjectRef

// RunState is the coarse thread-state enum DescribeWait distinguishes on.
type RunState = threadtable.RunState

const (
	Runnable     = threadtable.Runnable
	Blocked      = threadtable.Blocked
	Waiting      = threadtable.Waiting
	TimedWaiting = threadtable.TimedWaiting
	Sleeping     = threadtable.Sleeping
)

// InvalidTID marks "no owner" in OwnerTID's return value.
const InvalidTID = threadtable.InvalidTID

// Object is one synchronizable object: a lock word plus the identity used
// to label it in diagnostics. The zero value of the embedded field is
// Unlocked, so a zero-value Object is already usable.
type Object struct {
	field lockword.Field
	ref   ObjectRef
}

// NewObject returns an unlocked Object identified by id and typeName.
func NewObject(id uint64, typeName string) *Object {
	return &Object{ref: ObjectRef{ID: id, Type: typeName}}
}

// Ref returns the object's identity.
func (o *Object) Ref() ObjectRef { return o.ref }

// Thread is a participant that can own locks, park in wait sets, and be
// interrupted.
type Thread = threadtable.Thread

// Runtime is the process-wide state the monitor subsystem needs: the
// thread registry and the inflated-monitor registry. Construct one per
// process (or per test) and share it across every Object it synchronizes.
type Runtime struct {
	Threads  *threadtable.Registry
	Monitors *registry.Registry
}

// NewRuntime returns an empty Runtime ready to mint threads and enter locks.
func NewRuntime() *Runtime {
	return &Runtime{Threads: threadtable.NewRegistry(), Monitors: registry.New()}
}

// NewThread registers a new participant and returns it.
func (rt *Runtime) NewThread() *Thread { return rt.Threads.NewThread() }

// Enter acquires obj for self, blocking and inflating as needed.
func (rt *Runtime) Enter(self *Thread, obj *Object) {
	entry.Enter(rt.Threads, rt.Monitors, self, &obj.field, obj.ref)
}

// Exit releases one level of recursion self holds on obj.
func (rt *Runtime) Exit(self *Thread, obj *Object) error {
	return entry.Exit(rt.Threads, rt.Monitors, self, &obj.field, obj.ref)
}

// Wait releases obj and parks self until notified, interrupted, or the
// given timeout elapses. A zero timeout (ms == 0 && ns == 0) waits
// indefinitely. If interruptible is false, an intervening Interrupt still
// wakes the wait and clears the interrupted flag, but no error is returned.
func (rt *Runtime) Wait(self *Thread, obj *Object, ms int64, ns int32, interruptible bool, reason RunState) error {
	return entry.WaitOn(rt.Threads, rt.Monitors, self, &obj.field, obj.ref, ms, ns, interruptible, reason)
}

// Notify wakes at most one thread waiting on obj.
func (rt *Runtime) Notify(self *Thread, obj *Object) error {
	return entry.NotifyOn(rt.Monitors, self, &obj.field, false)
}

// NotifyAll wakes every thread waiting on obj.
func (rt *Runtime) NotifyAll(self *Thread, obj *Object) error {
	return entry.NotifyOn(rt.Monitors, self, &obj.field, true)
}

// OwnerTID returns the thread id currently holding obj, or InvalidTID.
func (rt *Runtime) OwnerTID(obj *Object) uint32 {
	return entry.OwnerTIDOf(rt.Monitors, &obj.field)
}

// ContendedMonitor returns the object t is blocked entering or parked
// waiting on, if any.
func (rt *Runtime) ContendedMonitor(t *Thread) (ObjectRef, bool) {
	return introspect.ContendedMonitorOf(t)
}

// DescribeWait renders what t is currently doing, for stack dumps.
func (rt *Runtime) DescribeWait(t *Thread) string {
	return introspect.DescribeWait(t, rt.Monitors)
}

// IsValidLockWord reports whether obj's current lock word describes a
// state this runtime could actually have produced.
func (rt *Runtime) IsValidLockWord(obj *Object) bool {
	return introspect.IsValidLockWord(obj.field.Load(), rt.Monitors)
}

// Frame, Verifier, and StackWalker mirror introspect's stack-inspection
// collaborators, re-exported so callers never need to import
// internal/sync/introspect directly.
type (
	Frame       = introspect.Frame
	Verifier    = introspect.Verifier
	StackWalker = introspect.StackWalker
)

// VisitLocks calls cb once for every monitor frame appears to hold.
func (rt *Runtime) VisitLocks(frame Frame, verifier Verifier, walker StackWalker, cb func(ObjectRef)) {
	introspect.VisitLocksInFrame(frame, verifier, walker, cb)
}

// DisallowNewMonitors closes the inflation gate: any Enter/Wait call
// currently inflating a thin lock blocks in registry.Add until
// AllowNewMonitors. Call before a sweep that needs a stable monitor set.
func (rt *Runtime) DisallowNewMonitors() { rt.Monitors.DisallowNew() }

// AllowNewMonitors reopens the gate closed by DisallowNewMonitors.
func (rt *Runtime) AllowNewMonitors() { rt.Monitors.AllowNew() }

// Sweep visits every registered monitor's object reference, the way a
// tracing collector's sweep phase would relocate or collect synchronized
// objects. Call only between DisallowNewMonitors and AllowNewMonitors.
func (rt *Runtime) Sweep(visit func(ObjectRef) (ObjectRef, bool)) {
	rt.Monitors.Sweep(visit)
}

// MonitorCount returns the number of currently inflated monitors.
func (rt *Runtime) MonitorCount() int { return rt.Monitors.Len() }

// Configure publishes new runtime-wide monitor configuration: a contention
// threshold, in milliseconds, above which a blocked Enter logs a
// diagnostic, and an optional predicate excluding sensitive threads (e.g.
// ones running inside a signal handler analogue) from that logging.
func Configure(lockProfilingThresholdMs uint32, sensitiveThread func() bool) {
	config.Init(lockProfilingThresholdMs, sensitiveThread)
}

// Shutdown resets monitor configuration to its defaults.
func Shutdown() { config.Shutdown() }
