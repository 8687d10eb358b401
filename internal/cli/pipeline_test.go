package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoerg/fuzzamoto/internal/store"
)

type response[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

func decodeResponse[T any](t *testing.T, out string) T {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

// writeContext writes a context blob for a 2-connection node into dir.
func writeContext(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "context.bin")
	_, err := execute(t, "context", "-o", path, "--connections", "2")
	require.NoError(t, err)
	return path
}

func TestContextCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctx.bin")

	out, err := execute(t, "context", "-o", path, "--connections", "3", "--format", "json")
	require.NoError(t, err)

	summary := decodeResponse[ContextSummary](t, out)
	assert.Equal(t, path, summary.Path)
	assert.Equal(t, 3, summary.Connections)
	assert.Positive(t, summary.Txos)
	assert.Positive(t, summary.Headers)
	assert.NotEmpty(t, summary.ID)

	full, err := readContextFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, full.Context.NumConnections)
	assert.Len(t, full.Txos, summary.Txos)
}

func TestGenerateCompileDecode(t *testing.T) {
	dir := t.TempDir()
	ctxPath := writeContext(t, dir)
	progPath := filepath.Join(dir, "prog.bin")

	out, err := execute(t, "generate", "--context", ctxPath, "--seed", "7", "--rounds", "16", "-o", progPath, "--format", "json")
	require.NoError(t, err)
	gen := decodeResponse[GenerateSummary](t, out)
	assert.Positive(t, gen.Instructions)
	assert.False(t, gen.Metadata)

	again := filepath.Join(dir, "again.bin")
	out, err = execute(t, "generate", "--context", ctxPath, "--seed", "7", "--rounds", "16", "-o", again, "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, gen.ProgramID, decodeResponse[GenerateSummary](t, out).ProgramID)

	outDir := filepath.Join(dir, "compiled")
	out, err = execute(t, "compile", "--context", ctxPath, "-o", outDir, progPath, again, "--format", "json")
	require.NoError(t, err)
	summary := decodeResponse[CompileSummary](t, out)
	assert.Equal(t, 2, summary.Compiled)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, filepath.Join(outDir, "prog"+CompiledSuffix), summary.Results[0].Output)
	assert.Equal(t, summary.Results[0].Actions, summary.Results[1].Actions)
	assert.FileExists(t, summary.Results[0].Output)

	inputPath := filepath.Join(dir, "input.bin")
	_, err = execute(t, "generate", "--context", ctxPath, "--seed", "7", "--rounds", "16",
		"--testcase", "--rpc-points", "0,200", "-o", inputPath)
	require.NoError(t, err)

	out, err = execute(t, "decode", "--context", ctxPath, inputPath, "--format", "json")
	require.NoError(t, err)
	decoded := decodeResponse[DecodedInput](t, out)
	assert.Equal(t, []int{0, 200}, decoded.RPCPoints)
	assert.Equal(t, summary.Results[0].Actions, decoded.Actions)
	require.Len(t, decoded.Schedule, decoded.Actions+2)
	assert.Equal(t, "rpc", decoded.Schedule[0])
	assert.Equal(t, "rpc", decoded.Schedule[len(decoded.Schedule)-1])
}

func TestCompileReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	ctxPath := writeContext(t, dir)
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0xc1}, 0o644))

	out, err := execute(t, "compile", "--context", ctxPath, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "read:")
	assert.Contains(t, out, "Compiled 0, failed 1")
}

func TestCompileMissingContext(t *testing.T) {
	_, err := execute(t, "compile", "--context", "/nonexistent/context.bin", "prog.bin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	out, err := execute(t, "decode", "--mode", "compiled", empty)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "empty input")
}

func TestReplayRecordsRuns(t *testing.T) {
	dir := t.TempDir()
	ctxPath := writeContext(t, dir)
	dbPath := filepath.Join(dir, "runs.db")

	inputs := make([]string, 3)
	for i := range inputs {
		inputs[i] = filepath.Join(dir, fmt.Sprintf("input-%d.bin", i))
		_, err := execute(t, "generate", "--context", ctxPath, "--seed", fmt.Sprint(i), "--rounds", "8",
			"--testcase", "--rpc-points", "1", "-o", inputs[i])
		require.NoError(t, err)
	}

	args := append([]string{"replay", "--db", dbPath, "--connections", "2", "--format", "json"}, inputs...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	results := decodeResponse[[]ReplayResult](t, out)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Pass, "%+v", r)
		assert.NotEmpty(t, r.RunID)
		assert.Equal(t, 1, r.RPCCalls)
	}

	out, err = execute(t, "runs", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	runs := decodeResponse[[]store.Run](t, out)
	require.Len(t, runs, 3)
	assert.Equal(t, results[0].RunID, runs[0].ID)
	assert.Equal(t, int64(3), runs[2].Seq)

	out, err = execute(t, "runs", "--db", dbPath, "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestReplayRejectedInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0}, 0o644))

	out, err := execute(t, "replay", "--mode", "compiled", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "bad.bin")
}

func TestRunsUsesConfiguredDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "fuzzamoto.cue")
	dbPath := filepath.Join(dir, "cfg.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("database: %q\n", dbPath)), 0o644))

	out, err := execute(t, "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
	assert.FileExists(t, dbPath)
}

func TestRunsWithoutDatabase(t *testing.T) {
	_, err := execute(t, "runs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database")
}

func TestMetadataImportShow(t *testing.T) {
	dir := t.TempDir()
	ctxPath := writeContext(t, dir)
	dbPath := filepath.Join(dir, "meta.db")
	progPath := filepath.Join(dir, "prog.bin")

	out, err := execute(t, "generate", "--context", ctxPath, "--seed", "3", "--rounds", "4", "-o", progPath, "--format", "json")
	require.NoError(t, err)
	gen := decodeResponse[GenerateSummary](t, out)

	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte(
		`{"template_requests":[{"triggering_instruction_index":1,"connection":0}],"block_txn_requests":[]}`), 0o644))

	out, err = execute(t, "metadata", "import", "--db", dbPath, progPath, metaPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 1 template and 0 block-txn request(s) for "+gen.ProgramID)

	out, err = execute(t, "metadata", "show", "--db", dbPath, gen.ProgramID)
	require.NoError(t, err)
	assert.Contains(t, out, "template   after instruction 1 on connection v0")

	// Only advance_time stays enabled: the recorded event is not tied to a
	// real send_get_template in the generated program.
	cfgPath := filepath.Join(dir, "fuzzamoto.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`generators: {
	get_template: 0
	template:     0
	block_txn:    0
	send_tx:      0
	block:        0
	raw_message:  0
}
`), 0o644))

	out, err = execute(t, "generate", "--config", cfgPath, "--context", ctxPath, "--program", progPath, "--db", dbPath,
		"--rounds", "2", "-o", filepath.Join(dir, "grown.bin"), "--format", "json")
	require.NoError(t, err)
	grown := decodeResponse[GenerateSummary](t, out)
	assert.True(t, grown.Metadata)
	assert.Greater(t, grown.Instructions, gen.Instructions)
}

func TestMetadataImportMissingProgram(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "metadata", "import", "--db", filepath.Join(dir, "m.db"), filepath.Join(dir, "nope.bin"), filepath.Join(dir, "m.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
