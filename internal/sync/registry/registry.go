// Package registry implements the Monitor Registry: the process-wide set of
// live, inflated Monitor Records, keyed by the id a fat lock word carries.
// It supports the same gated-registration protocol monitor.cc's MonitorList
// does, so a conservative-GC-style sweep can temporarily close the gate,
// walk the live set without a new entry appearing mid-walk, and reopen it.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/internal/sync/record"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

// Registry is the live set of inflated Monitor Records.
type Registry struct {
	mu       sync.Mutex
	cond     *sync.Cond
	allowNew bool
	monitors map[uint64]*record.Record

	idCounter atomic.Uint64
}

// New returns an empty registry with new-monitor registration allowed.
func New() *Registry {
	r := &Registry{allowNew: true, monitors: make(map[uint64]*record.Record)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// NewID allocates a fresh monitor id. Ids are cheap and handed out
// unconditionally (unlike registration itself, which can be gated) because
// the inflation path needs an id to encode into the fat lock word before it
// knows whether the CAS that publishes that word will win the race.
func (r *Registry) NewID() uint64 { return r.idCounter.Add(1) }

// Add registers rec under its own ID, blocking while new registrations are
// disallowed. Call only after the fat lock word naming rec.ID() has already
// been installed via CAS.
func (r *Registry) Add(rec *record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.allowNew {
		r.cond.Wait()
	}
	r.monitors[rec.ID()] = rec
}

// DisallowNew closes the gate: further Add calls block until AllowNew.
func (r *Registry) DisallowNew() {
	r.mu.Lock()
	r.allowNew = false
	r.mu.Unlock()
}

// AllowNew reopens the gate and wakes any Add calls blocked on it.
func (r *Registry) AllowNew() {
	r.mu.Lock()
	r.allowNew = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Lookup returns the record registered under id, if any.
func (r *Registry) Lookup(id uint64) (*record.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.monitors[id]
	return rec, ok
}

// Contains reports whether id names a currently registered monitor.
func (r *Registry) Contains(id uint64) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Len returns the number of currently registered monitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// Snapshot returns a defensive copy of the currently registered monitors,
// for introspection and the demo/watch command's live display.
func (r *Registry) Snapshot() []*record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*record.Record, 0, len(r.monitors))
	for _, rec := range r.monitors {
		out = append(out, rec)
	}
	return out
}

// Sweep visits every registered monitor's object reference. The visitor
// returns the object's possibly-updated reference and whether it is still
// live; a dead object's monitor is dropped from the registry, the way
// MonitorList::SweepMonitorList drops monitors for collected objects.
func (r *Registry) Sweep(visit func(threadtable.ObjectRef) (threadtable.ObjectRef, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.monitors {
		newRef, live := visit(rec.Object())
		if !live {
			delete(r.monitors, id)
			continue
		}
		rec.SetObject(newRef)
	}
}

// OwnerTID resolves the owning thread id encoded by w, following a fat lock
// word through to its Monitor Record. ok is false for an unlocked word, for
// a fat word referencing an id this registry has never seen, or for a fat
// monitor that is (transiently) unowned.
func (r *Registry) OwnerTID(w lockword.Word) (tid uint32, ok bool) {
	d := lockword.Decode(w)
	switch d.State {
	case lockword.Unlocked:
		return threadtable.InvalidTID, false
	case lockword.ThinLocked:
		return d.OwnerTID, true
	case lockword.FatLocked:
		rec, found := r.Lookup(d.MonitorID)
		if !found {
			return threadtable.InvalidTID, false
		}
		owner := rec.Owner()
		if owner == nil {
			return threadtable.InvalidTID, false
		}
		return owner.TID(), true
	default:
		return threadtable.InvalidTID, false
	}
}
