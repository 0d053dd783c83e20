package entry

import (
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/internal/sync/monitorerr"
	"github.com/kolkov/objmonitor/internal/sync/registry"
	"github.com/kolkov/objmonitor/internal/sync/threadtable"
)

func newHarness() (*threadtable.Registry, *registry.Registry) {
	return threadtable.NewRegistry(), registry.New()
}

func TestEnterExitUncontendedStaysThin(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 1, Type: "widget"}

	Enter(threads, monitors, self, &field, ref)
	d := lockword.Decode(field.Load())
	if d.State != lockword.ThinLocked || d.OwnerTID != self.TID() {
		t.Fatalf("after Enter: state=%v owner=%d, want ThinLocked by %d", d.State, d.OwnerTID, self.TID())
	}

	if err := Exit(threads, monitors, self, &field, ref); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if got := lockword.Decode(field.Load()).State; got != lockword.Unlocked {
		t.Fatalf("after Exit: state=%v, want Unlocked", got)
	}
}

func TestRecursiveEnterPastThinMaxInflates(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 2, Type: "widget"}

	for i := 0; i <= lockword.ThinMax+1; i++ {
		Enter(threads, monitors, self, &field, ref)
	}
	d := lockword.Decode(field.Load())
	if d.State != lockword.FatLocked {
		t.Fatalf("after %d recursive enters: state=%v, want FatLocked", lockword.ThinMax+2, d.State)
	}
	rec, ok := monitors.Lookup(d.MonitorID)
	if !ok {
		t.Fatal("inflated monitor id not found in registry")
	}
	if rec.OwnerTID() != self.TID() {
		t.Fatalf("inflated record owner = %d, want %d", rec.OwnerTID(), self.TID())
	}

	for i := 0; i <= lockword.ThinMax+1; i++ {
		if err := Exit(threads, monitors, self, &field, ref); err != nil {
			t.Fatalf("Exit during unwind: %v", err)
		}
	}
	if got := OwnerTIDOf(monitors, &field); got != threadtable.InvalidTID {
		t.Fatalf("OwnerTIDOf after full unwind = %d, want InvalidTID", got)
	}
}

func TestContendedEnterInflatesAndHandsOff(t *testing.T) {
	threads, monitors := newHarness()
	owner := threads.NewThread()
	waiter := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 3, Type: "widget"}

	Enter(threads, monitors, owner, &field, ref)

	acquired := make(chan struct{})
	go func() {
		Enter(threads, monitors, waiter, &field, ref)
		close(acquired)
	}()

	// Give the waiter time to spin out and escalate to suspend-and-inflate.
	time.Sleep(10 * time.Millisecond)

	if err := Exit(threads, monitors, owner, &field, ref); err != nil {
		t.Fatalf("owner Exit: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if got := OwnerTIDOf(monitors, &field); got != waiter.TID() {
		t.Fatalf("OwnerTIDOf = %d, want %d", got, waiter.TID())
	}
	if err := Exit(threads, monitors, waiter, &field, ref); err != nil {
		t.Fatalf("waiter Exit: %v", err)
	}
}

func TestWaitOnThinLockInflatesThenWaits(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	notifier := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 4, Type: "widget"}

	Enter(threads, monitors, self, &field, ref)

	waitReturned := make(chan error, 1)
	go func() {
		waitReturned <- WaitOn(threads, monitors, self, &field, ref, 0, 0, true, threadtable.Waiting)
	}()
	time.Sleep(20 * time.Millisecond)

	if lockword.Decode(field.Load()).State != lockword.FatLocked {
		t.Fatal("WaitOn did not inflate the thin lock before parking")
	}

	Enter(threads, monitors, notifier, &field, ref)
	if err := NotifyOn(monitors, notifier, &field, true); err != nil {
		t.Fatalf("NotifyOn: %v", err)
	}
	if err := Exit(threads, monitors, notifier, &field, ref); err != nil {
		t.Fatalf("notifier Exit: %v", err)
	}

	select {
	case err := <-waitReturned:
		if err != nil {
			t.Fatalf("WaitOn returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOn never returned after notify")
	}
	if err := Exit(threads, monitors, self, &field, ref); err != nil {
		t.Fatalf("self Exit after WaitOn: %v", err)
	}
}

func TestExitWithoutOwnershipIsIllegalMonitorState(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 5, Type: "widget"}

	err := Exit(threads, monitors, self, &field, ref)
	if _, ok := err.(*monitorerr.IllegalMonitorStateError); !ok {
		t.Fatalf("Exit on unlocked object returned %v (%T), want *IllegalMonitorStateError", err, err)
	}

	other := threads.NewThread()
	Enter(threads, monitors, other, &field, ref)
	err = Exit(threads, monitors, self, &field, ref)
	if _, ok := err.(*monitorerr.IllegalMonitorStateError); !ok {
		t.Fatalf("Exit by non-owner returned %v (%T), want *IllegalMonitorStateError", err, err)
	}
}

func TestNotifyOnThinLockIsNoOp(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 6, Type: "widget"}

	Enter(threads, monitors, self, &field, ref)
	if err := NotifyOn(monitors, self, &field, false); err != nil {
		t.Fatalf("NotifyOn on an uninflated thin lock: %v", err)
	}
	if got := lockword.Decode(field.Load()).State; got != lockword.ThinLocked {
		t.Fatalf("NotifyOn no-op inflated the lock: state=%v", got)
	}
}

func TestOwnerTIDOfAcrossStates(t *testing.T) {
	threads, monitors := newHarness()
	self := threads.NewThread()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 7, Type: "widget"}

	if got := OwnerTIDOf(monitors, &field); got != threadtable.InvalidTID {
		t.Fatalf("OwnerTIDOf unlocked = %d, want InvalidTID", got)
	}
	Enter(threads, monitors, self, &field, ref)
	if got := OwnerTIDOf(monitors, &field); got != self.TID() {
		t.Fatalf("OwnerTIDOf thin = %d, want %d", got, self.TID())
	}
	for i := 0; i <= lockword.ThinMax; i++ {
		Enter(threads, monitors, self, &field, ref)
	}
	if got := OwnerTIDOf(monitors, &field); got != self.TID() {
		t.Fatalf("OwnerTIDOf fat = %d, want %d", got, self.TID())
	}
}

func TestConcurrentStressUnderRace(t *testing.T) {
	threads, monitors := newHarness()
	var field lockword.Field
	ref := threadtable.ObjectRef{ID: 8, Type: "counter"}
	counter := 0

	var g errgroup.Group
	const goroutines = 16
	const iterations = 200
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			self := threads.NewThread()
			for j := 0; j < iterations; j++ {
				Enter(threads, monitors, self, &field, ref)
				counter++
				if err := Exit(threads, monitors, self, &field, ref); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("stress group: %v", err)
	}
	if counter != goroutines*iterations {
		t.Fatalf("counter = %d, want %d", counter, goroutines*iterations)
	}
}
