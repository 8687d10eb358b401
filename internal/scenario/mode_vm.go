//go:build compile_in_vm

package scenario

// DefaultMode compiles symbolic programs next to the target.
const DefaultMode = ModeProgram
