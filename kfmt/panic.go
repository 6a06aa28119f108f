package kfmt

import (
	"shrike/cpu"
)

// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
var cpuHaltFn = cpu.HaltForever

// Panic outputs the supplied error (if not nil) to the console and halts
// the CPU forever. Calls to Panic never return. Panic also serves as a
// redirection target for calls to panic() (resolved via runtime.gopanic).
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var msg string

	switch t := e.(type) {
	case nil:
		// no message to print
	case string:
		msg = t
	case error:
		msg = t.Error()
	default:
		msg = "unknown cause"
	}

	Printf("\n-----------------------------------\n")
	if msg != "" {
		Printf("unrecoverable error: %s\n", msg)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw.
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}
