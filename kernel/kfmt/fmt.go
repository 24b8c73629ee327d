// Package kfmt implements the kernel's console output: formatted printing,
// flag-gated debug tracing and the kernel panic banner.
package kfmt

import (
	"fmt"
	"io"

	"nachos/kernel/sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// outputLock serializes writes so lines emitted by concurrently
	// running address spaces do not interleave.
	outputLock sync.Spinlock

	// debugFlags holds the enabled debug categories; debugAll is set when
	// the '+' flag is present.
	debugFlags [256]bool
	debugAll   bool
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputLock.Acquire()
	defer outputLock.Release()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats according to a format specifier and writes the result to
// the active output sink. If no sink is attached, the output is buffered
// into a ring-buffer and emitted once SetOutputSink is called.
func Printf(format string, args ...interface{}) {
	outputLock.Acquire()
	defer outputLock.Release()

	w := outputSink
	if w == nil {
		w = &earlyPrintBuffer
	}

	fmt.Fprintf(w, format, args...)
}

// SetDebugFlags enables the debug categories listed in flags. Each byte of
// flags names a category; '+' enables all of them. Calling SetDebugFlags
// replaces any previously enabled categories. It is meant to be called once
// while the kernel boots.
func SetDebugFlags(flags string) {
	debugFlags = [256]bool{}
	debugAll = false

	for i := 0; i < len(flags); i++ {
		if flags[i] == '+' {
			debugAll = true
			continue
		}
		debugFlags[flags[i]] = true
	}
}

// DebugEnabled returns true if tracing for the flag category is enabled.
func DebugEnabled(flag byte) bool {
	return debugAll || debugFlags[flag]
}

// Debugf behaves like Printf but only emits output when the flag category
// has been enabled via SetDebugFlags.
func Debugf(flag byte, format string, args ...interface{}) {
	if !DebugEnabled(flag) {
		return
	}

	Printf(format, args...)
}
