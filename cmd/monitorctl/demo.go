package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/objmonitor/internal/sync/lockword"
	"github.com/kolkov/objmonitor/monitor"
)

// demoCommand runs a synthetic workload exercising every corner of the
// monitor subsystem: plain thin-lock contention, recursion deep enough to
// force inflation, contention-triggered suspend-and-inflate, and an
// interrupted wait.
func demoCommand(_ []string) {
	rt := monitor.NewRuntime()
	monitor.Configure(5, nil)
	defer monitor.Shutdown()

	fmt.Println("monitorctl demo: exercising thin locks, inflation, and wait/notify")

	runThinLockWorkload(rt)
	runInflationWorkload(rt)
	runContentionWorkload(rt)
	runInterruptWorkload(rt)

	fmt.Printf("done: %d monitors remain inflated\n", rt.MonitorCount())
}

func runThinLockWorkload(rt *monitor.Runtime) {
	obj := monitor.NewObject(1, "counter")
	counter := 0

	var g errgroup.Group
	const goroutines = 8
	const iterations = 500
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			self := rt.NewThread()
			for j := 0; j < iterations; j++ {
				rt.Enter(self, obj)
				counter++
				if err := rt.Exit(self, obj); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "thin-lock workload: %v\n", err)
		return
	}
	fmt.Printf("thin locks: %d goroutines incremented a shared counter to %d\n", goroutines, counter)
}

func runInflationWorkload(rt *monitor.Runtime) {
	obj := monitor.NewObject(2, "recursive")
	self := rt.NewThread()
	depth := lockword.ThinMax + 5
	for i := 0; i < depth; i++ {
		rt.Enter(self, obj)
	}
	owner := rt.OwnerTID(obj)
	for i := 0; i < depth; i++ {
		if err := rt.Exit(self, obj); err != nil {
			fmt.Fprintf(os.Stderr, "inflation workload: %v\n", err)
			return
		}
	}
	fmt.Printf("inflation: recursed %d levels, forcing inflation (owner was thread %d)\n", depth, owner)
}

func runContentionWorkload(rt *monitor.Runtime) {
	obj := monitor.NewObject(3, "shared-resource")
	owner := rt.NewThread()
	rt.Enter(owner, obj)

	var g errgroup.Group
	const contenders = 4
	for i := 0; i < contenders; i++ {
		g.Go(func() error {
			self := rt.NewThread()
			rt.Enter(self, obj)
			time.Sleep(time.Millisecond)
			return rt.Exit(self, obj)
		})
	}
	time.Sleep(5 * time.Millisecond)
	if err := rt.Exit(owner, obj); err != nil {
		fmt.Fprintf(os.Stderr, "contention workload: %v\n", err)
		return
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "contention workload: %v\n", err)
		return
	}
	fmt.Printf("contention: %d goroutines serialized through one inflated monitor\n", contenders)
}

func runInterruptWorkload(rt *monitor.Runtime) {
	obj := monitor.NewObject(4, "door")
	self := rt.NewThread()
	rt.Enter(self, obj)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- rt.Wait(self, obj, 0, 0, true, monitor.Waiting)
	}()

	delay := time.Duration(5+rand.Intn(10)) * time.Millisecond
	time.Sleep(delay)
	self.Interrupt()

	select {
	case err := <-waitDone:
		fmt.Printf("interrupt: wait woke with %v after %s\n", err, delay)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "interrupt workload: wait never woke")
	}
	if err := rt.Exit(self, obj); err != nil {
		fmt.Fprintf(os.Stderr, "interrupt workload: %v\n", err)
	}
}
