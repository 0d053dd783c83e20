package threadtable

import "sync/atomic"

// atomicRunState stores a RunState lock-free; a thread's own state is read
// far more often (by introspection) than it is written (by itself, on every
// state transition), so a plain atomic word beats a mutex here.
type atomicRunState struct {
	v atomic.Uint32
}

func (a *atomicRunState) load() RunState   { return RunState(a.v.Load()) }
func (a *atomicRunState) store(s RunState) { a.v.Store(uint32(s)) }

// atomicEnterTarget stores the thread's current MonitorEnterObject
// lock-free, since other goroutines' introspection queries read it
// concurrently with the owning thread setting and clearing it.
type atomicEnterTarget struct {
	v atomic.Pointer[EnterTarget]
}

func (a *atomicEnterTarget) load() *EnterTarget        { return a.v.Load() }
func (a *atomicEnterTarget) store(target *EnterTarget) { a.v.Store(target) }
