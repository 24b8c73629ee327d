package kfmt

import "nachos/kernel"

var (
	// haltFn stops the kernel after the panic banner has been printed. The
	// hosted kernel halts by unwinding the calling goroutine; tests
	// override it to observe the halt.
	haltFn = func(err *kernel.Error) { panic(err) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "system halted"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// kernel. Calls to Panic never return. It is reserved for broken kernel
// invariants; conditions caused by user programs are reported as errors.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: "rt", Message: t}
	case error:
		err = &kernel.Error{Module: "rt", Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	} else {
		err = errRuntimePanic
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn(err)
}
