// Package config loads scheduler and generation settings from a CUE file
// validated against an embedded schema.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/brunoerg/fuzzamoto/internal/scenario"
)

//go:embed schema.cue
var schemaSource string

// DumpContextEnv overrides Config.ContextDumpPath when set.
const DumpContextEnv = "DUMP_CONTEXT"

// Error codes for configuration failures.
const (
	ErrCodeRead     = "E401"
	ErrCodeParse    = "E402"
	ErrCodeValidate = "E403"
	ErrCodeDecode   = "E404"
)

// Error is a configuration load failure.
type Error struct {
	Code    string
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Oracles toggles the dual-target oracles.
type Oracles struct {
	NetSplit  bool `json:"netsplit"`
	Consensus bool `json:"consensus"`
}

// Config holds every tunable of the pipeline.
type Config struct {
	CompileInVM        bool           `json:"compile_in_vm"`
	ForceSendAndPing   bool           `json:"force_send_and_ping"`
	RPCMethod          string         `json:"rpc_method"`
	Oracles            Oracles        `json:"oracles"`
	SyncTimeoutMS      int            `json:"sync_timeout_ms"`
	SyncPollMS         int            `json:"sync_poll_ms"`
	ConsensusTimeoutMS int            `json:"consensus_timeout_ms"`
	ConsensusPollMS    int            `json:"consensus_poll_ms"`
	ContextDumpPath    string         `json:"context_dump_path"`
	Database           string         `json:"database"`
	Generators         map[string]int `json:"generators"`
}

// Default returns the configuration of an empty file.
func Default() (*Config, error) {
	return Parse("", nil)
}

// Load reads and validates the CUE file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeRead, Path: path, Message: err.Error()}
	}
	return Parse(path, src)
}

// Parse unifies src with the schema and decodes the result. filename is
// used in error positions only.
func Parse(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, &Error{Code: ErrCodeParse, Path: filename, Message: errors.Details(err, nil)}
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &Error{Code: ErrCodeValidate, Path: filename, Message: errors.Details(err, nil)}
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, &Error{Code: ErrCodeDecode, Path: filename, Message: err.Error()}
	}
	if cfg.Generators == nil {
		cfg.Generators = map[string]int{}
	}
	if p := os.Getenv(DumpContextEnv); p != "" {
		cfg.ContextDumpPath = p
	}
	return &cfg, nil
}

// Mode returns the decode mode: symbolic programs compiled in the target
// environment when CompileInVM is set, the build's default otherwise.
func (c *Config) Mode() scenario.Mode {
	if c.CompileInVM {
		return scenario.ModeProgram
	}
	return scenario.DefaultMode
}

// ScenarioOptions translates the config into scheduler options.
func (c *Config) ScenarioOptions() []scenario.Option {
	return []scenario.Option{
		scenario.WithForceSendAndPing(c.ForceSendAndPing),
		scenario.WithRPCMethod(c.RPCMethod),
		scenario.WithNetSplitOracle(c.Oracles.NetSplit),
		scenario.WithConsensusOracle(c.Oracles.Consensus, millis(c.ConsensusTimeoutMS), millis(c.ConsensusPollMS)),
		scenario.WithSync(millis(c.SyncTimeoutMS), millis(c.SyncPollMS)),
		scenario.WithContextDump(c.ContextDumpPath),
	}
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
