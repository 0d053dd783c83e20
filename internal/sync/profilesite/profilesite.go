// Package profilesite captures "where the current owner acquired this
// lock" for the Monitor Record's optional profile site. A managed runtime
// with its own bytecode would record a {method, instruction offset} pair;
// here the closest equivalent is a Go call stack, captured and deduplicated
// the way a stack depot deduplicates race-report stacks, keyed by an FNV-1a
// hash of its program counters instead of storing the full stack on every
// contended acquire.
package profilesite

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"
)

// MaxFrames bounds how much of the call stack is captured: enough to name
// the acquiring call site and a couple of its callers without the cost of
// walking deep into the goroutine's stack on every contended lock.
const MaxFrames = 8

// Site is a captured, deduplicated call stack identifying an acquisition
// point. The zero Site is the "no site recorded" value.
type Site struct {
	hash uint64
}

// Valid reports whether the site holds a captured stack.
func (s Site) Valid() bool { return s.hash != 0 }

var depot sync.Map // uint64 hash -> *stackTrace

type stackTrace struct {
	pc [MaxFrames]uintptr
}

// Capture records the caller's current call stack and returns a Site
// identifying it, deduplicating against any previously captured stack with
// the same program counters.
func Capture() Site {
	var pcs [MaxFrames]uintptr
	// Skip runtime.Callers and Capture itself, so the first frame recorded
	// is Capture's caller (the thin-lock or fat-lock acquire path).
	n := runtime.Callers(2, pcs[:])
	if n == 0 {
		return Site{}
	}
	hash := hashStack(pcs[:n])
	if _, exists := depot.Load(hash); !exists {
		depot.Store(hash, &stackTrace{pc: pcs})
	}
	return Site{hash: hash}
}

func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for _, pc := range pcs {
		//nolint:gosec // reading the uintptr's bytes for hashing, not dereferencing it
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		_, _ = h.Write(b)
	}
	return h.Sum64()
}

// Format renders the site as a multi-line string suitable for a contention
// log line, filtering out runtime-internal frames. Returns "<unknown>" for
// the zero Site.
func (s Site) Format() string {
	if !s.Valid() {
		return "<unknown>"
	}
	v, ok := depot.Load(s.hash)
	if !ok {
		return "<unknown>"
	}
	trace := v.(*stackTrace)
	frames := runtime.CallersFrames(trace.pc[:])
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&buf, "%s (%s:%d)", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
		buf.WriteString(" <- ")
	}
	if buf.Len() == 0 {
		return "<runtime internal>"
	}
	return buf.String()
}
