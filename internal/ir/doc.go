// Package ir provides the typed symbolic instruction language for protocol
// test programs.
//
// This package contains the data model (operations, instructions, variables,
// programs and the environment context) plus the ProgramBuilder that enforces
// well-typedness while a program is under construction. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Operation is a closed set of kinds with a static signature table
//   - Variables are indices into an append-only log, never pointers
//   - An instruction may only reference variables defined strictly before it
//   - ProgramContext and resource tables are explicit inputs, never globals
//   - The wire codec is msgpack with array-encoded structs (fixed and compact)
package ir
