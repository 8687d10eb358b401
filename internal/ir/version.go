package ir

// Version constants for the IR schema.
const (
	// IRVersion is bumped whenever Operation, Instruction or the codec layout
	// changes in a way that breaks previously encoded programs.
	IRVersion = "1"

	// EngineVersion is the harness version recorded with every run.
	EngineVersion = "0.1.0"
)
