package ir

// Variable is a typed handle to the output of a prior instruction.
// Index is the position in the program's variable log.
type Variable struct {
	Index int
	Kind  VariableKind
}

// Instruction applies an operation to previously defined variables.
type Instruction struct {
	Op     Operation `msgpack:"op"`
	Inputs []int     `msgpack:"inputs"`
}

// ProgramContext describes the simulated environment a program is generated
// and compiled against. It is metadata about the environment, not part of
// the instruction stream.
type ProgramContext struct {
	NumNodes       int    `msgpack:"num_nodes" json:"num_nodes" yaml:"num_nodes"`
	NumConnections int    `msgpack:"num_connections" json:"num_connections" yaml:"num_connections"`
	Timestamp      uint64 `msgpack:"timestamp" json:"timestamp" yaml:"timestamp"`
}

// Program is a sequence of instructions plus the context it targets.
// A program handed to the compiler must not be mutated afterwards.
type Program struct {
	Instructions []Instruction `msgpack:"instructions"`
	Context      ProgramContext `msgpack:"context"`
}

// Outpoint references a transaction output.
type Outpoint struct {
	Txid [32]byte `msgpack:"txid"`
	Vout uint32   `msgpack:"vout"`
}

// Txo is a spendable transaction output together with the material needed
// to spend it.
type Txo struct {
	Outpoint          Outpoint `msgpack:"outpoint"`
	Value             uint64   `msgpack:"value"`
	ScriptPubKey      []byte   `msgpack:"script_pubkey"`
	SpendingScriptSig []byte   `msgpack:"spending_script_sig"`
	SpendingWitness   [][]byte `msgpack:"spending_witness"`
}

// Header is a known block header and its height.
type Header struct {
	Prev       [32]byte `msgpack:"prev"`
	MerkleRoot [32]byte `msgpack:"merkle_root"`
	Nonce      uint32   `msgpack:"nonce"`
	Bits       uint32   `msgpack:"bits"`
	Time       uint32   `msgpack:"time"`
	Version    int32    `msgpack:"version"`
	Height     uint32   `msgpack:"height"`
}

// FullProgramContext is the blob emitted once per scenario setup: the
// environment context plus the read-only resource tables.
type FullProgramContext struct {
	Context ProgramContext `msgpack:"context"`
	Txos    []Txo          `msgpack:"txos"`
	Headers []Header       `msgpack:"headers"`
}

// RequestEvent is a request the target issued during a previous execution.
type RequestEvent struct {
	// TriggeringInstructionIndex is the instruction whose action caused the request.
	TriggeringInstructionIndex int `msgpack:"triggering_instruction_index" json:"triggering_instruction_index"`
	// Connection is the variable index of the connection the request arrived on.
	Connection int `msgpack:"connection" json:"connection"`
}

// PerTestcaseMetadata is execution feedback recorded for a structurally
// similar program. It is produced outside this module and only read here.
type PerTestcaseMetadata struct {
	TemplateRequests []RequestEvent `msgpack:"template_requests" json:"template_requests"`
	BlockTxnRequests []RequestEvent `msgpack:"block_txn_requests" json:"block_txn_requests"`
}

// TemplateRequest returns the recorded template requests. Safe on nil.
func (m *PerTestcaseMetadata) TemplateRequest() []RequestEvent {
	if m == nil {
		return nil
	}
	return m.TemplateRequests
}

// BlockTxnRequest returns the recorded block-transaction requests. Safe on nil.
func (m *PerTestcaseMetadata) BlockTxnRequest() []RequestEvent {
	if m == nil {
		return nil
	}
	return m.BlockTxnRequests
}
