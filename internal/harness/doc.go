// Package harness provides conformance testing for the fuzzing pipeline.
//
// A scenario describes a symbolic program, the control-plane call points
// to interleave with it, and a simulated target with optional injected
// faults. The harness encodes the program as a raw fuzz input, decodes
// and runs it through the scheduler, and checks assertions against the
// recorded call trace, the oracle verdict and the stored run.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	mode: program            # or compiled
//	target:
//	  connections: 2
//	  timestamp: 1296688602
//	  chain_height: 200
//	options:
//	  netsplit: true
//	  consensus: true
//	  consensus_timeout_ms: 50
//	faults:
//	  crash: false
//	  fail_sends: [0]
//	rpc_points: [0, 9]
//	program:
//	  - op: load_connection
//	    index: 0
//	  - op: send_get_template
//	    inputs: [0]
//	assertions:
//	  - type: action_count
//	    count: 1
//	  - type: action_order
//	    kinds: [rpc, send, ping]
//	  - type: result
//	    pass: true
//	  - type: final_state
//	    table: runs
//	    where: { id: "scenario_name-run" }
//	    expect: { pass: true }
//
// # Assertion Types
//
//   - action_count: Number of compiled actions executed
//   - rpc_count: Number of control-plane calls issued
//   - action_order: Event kinds appear in order (gaps allowed)
//   - trace_contains: An event with the given kind, command and connection exists
//   - result: Oracle verdict and the oracle that failed
//   - final_state: Queries a store table and verifies expected values
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run ID ("<name>-run"), a sequenced
// trace and a fresh in-memory SQLite store, so identical scenarios produce
// identical snapshots for golden file comparison.
package harness
