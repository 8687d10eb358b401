//go:build !compile_in_vm

package scenario

// DefaultMode expects inputs compiled outside the target environment.
const DefaultMode = ModeCompiled
