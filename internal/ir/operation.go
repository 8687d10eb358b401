package ir

import "fmt"

// VariableKind is the static type of a variable produced by an instruction.
type VariableKind uint8

const (
	KindConnection VariableKind = iota + 1
	KindTime
	KindBytes
	KindMsgType
	KindTxo
	KindTransaction
	KindMutTxList
	KindTxList
	KindHeader
	KindBlock
	KindTemplate
	KindBlockTxn
)

var kindNames = map[VariableKind]string{
	KindConnection:  "connection",
	KindTime:        "time",
	KindBytes:       "bytes",
	KindMsgType:     "msg_type",
	KindTxo:         "txo",
	KindTransaction: "transaction",
	KindMutTxList:   "mut_tx_list",
	KindTxList:      "tx_list",
	KindHeader:      "header",
	KindBlock:       "block",
	KindTemplate:    "template",
	KindBlockTxn:    "block_txn",
}

func (k VariableKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// OpKind identifies an operation. The set is closed: every kind has an entry
// in the signature table and a lowering case in the compiler.
type OpKind uint8

const (
	OpLoadConnection OpKind = iota + 1
	OpLoadTime
	OpLoadBytes
	OpLoadMsgType
	OpLoadTxo
	OpLoadHeader

	OpAdvanceTime
	OpSetTime

	OpBuildTransaction
	OpBeginTxList
	OpAddTx
	OpEndTxList
	OpBuildBlock
	OpBuildTemplate
	OpBuildBlockTxn

	OpSendRawMessage
	OpSendTx
	OpSendHeader
	OpSendBlock
	OpSendCmpctBlock
	OpSendGetTemplate
	OpSendTemplate
	OpSendBlockTxn

	opKindEnd
)

// Signature is the static input/output typing of an operation.
type Signature struct {
	Inputs  []VariableKind
	Outputs []VariableKind
	// Action marks operations that lower to a compiled action.
	Action bool
}

type opInfo struct {
	name string
	sig  Signature
}

func sig(inputs []VariableKind, outputs []VariableKind, action bool) Signature {
	return Signature{Inputs: inputs, Outputs: outputs, Action: action}
}

func in(kinds ...VariableKind) []VariableKind { return kinds }

var opTable = [opKindEnd]opInfo{
	OpLoadConnection: {"load_connection", sig(nil, in(KindConnection), false)},
	OpLoadTime:       {"load_time", sig(nil, in(KindTime), false)},
	OpLoadBytes:      {"load_bytes", sig(nil, in(KindBytes), false)},
	OpLoadMsgType:    {"load_msg_type", sig(nil, in(KindMsgType), false)},
	OpLoadTxo:        {"load_txo", sig(nil, in(KindTxo), false)},
	OpLoadHeader:     {"load_header", sig(nil, in(KindHeader), false)},

	OpAdvanceTime: {"advance_time", sig(in(KindTime), in(KindTime), false)},
	OpSetTime:     {"set_time", sig(in(KindTime), nil, true)},

	OpBuildTransaction: {"build_transaction", sig(in(KindTxo), in(KindTransaction, KindTxo), false)},
	OpBeginTxList:      {"begin_tx_list", sig(nil, in(KindMutTxList), false)},
	OpAddTx:            {"add_tx", sig(in(KindMutTxList, KindTransaction), nil, false)},
	OpEndTxList:        {"end_tx_list", sig(in(KindMutTxList), in(KindTxList), false)},
	OpBuildBlock:       {"build_block", sig(in(KindHeader, KindTime, KindTxList), in(KindBlock, KindHeader), false)},
	OpBuildTemplate:    {"build_template", sig(nil, in(KindTemplate), false)},
	OpBuildBlockTxn:    {"build_block_txn", sig(in(KindBlock), in(KindBlockTxn), false)},

	OpSendRawMessage:  {"send_raw_message", sig(in(KindConnection, KindMsgType, KindBytes), nil, true)},
	OpSendTx:          {"send_tx", sig(in(KindConnection, KindTransaction), nil, true)},
	OpSendHeader:      {"send_header", sig(in(KindConnection, KindHeader), nil, true)},
	OpSendBlock:       {"send_block", sig(in(KindConnection, KindBlock), nil, true)},
	OpSendCmpctBlock:  {"send_cmpct_block", sig(in(KindConnection, KindBlock), nil, true)},
	OpSendGetTemplate: {"send_get_template", sig(in(KindConnection), nil, true)},
	OpSendTemplate:    {"send_template", sig(in(KindConnection, KindTemplate), nil, true)},
	OpSendBlockTxn:    {"send_block_txn", sig(in(KindConnection, KindBlockTxn), nil, true)},
}

// Valid reports whether k names a known operation.
func (k OpKind) Valid() bool {
	return k > 0 && k < opKindEnd
}

func (k OpKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("op(%d)", uint8(k))
	}
	return opTable[k].name
}

// Signature returns the static typing of k. Unknown kinds have an empty signature.
func (k OpKind) Signature() Signature {
	if !k.Valid() {
		return Signature{}
	}
	return opTable[k].sig
}

// RequiresConnection reports whether k can only be emitted when the context
// has at least one established connection.
func (k OpKind) RequiresConnection() bool {
	if k == OpLoadConnection {
		return true
	}
	for _, input := range k.Signature().Inputs {
		if input == KindConnection {
			return true
		}
	}
	return false
}

// ParseOpKind resolves the snake_case name of an operation.
func ParseOpKind(name string) (OpKind, error) {
	for k := OpKind(1); k < opKindEnd; k++ {
		if opTable[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// AllOpKinds returns every operation kind in declaration order.
func AllOpKinds() []OpKind {
	kinds := make([]OpKind, 0, int(opKindEnd)-1)
	for k := OpKind(1); k < opKindEnd; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Operation is a tagged operation: Kind selects the variant and the
// remaining fields hold its immediate parameters. Fields not used by
// Kind stay zero.
type Operation struct {
	Kind OpKind `msgpack:"kind"`

	// Index selects a connection (load_connection) or a resource table
	// entry (load_txo, load_header, build_template). Resource indices are
	// resolved modulo the table length at compile time.
	Index uint64 `msgpack:"index"`

	Time     uint64 `msgpack:"time"`    // load_time
	Seconds  uint64 `msgpack:"seconds"` // advance_time
	Bytes    []byte `msgpack:"bytes"`   // load_bytes
	Command  string `msgpack:"command"` // load_msg_type
	Fee      uint64 `msgpack:"fee"`     // build_transaction
	Version  int32  `msgpack:"version"` // build_transaction
	LockTime uint32 `msgpack:"lock_time"`
}

func (op Operation) String() string {
	switch op.Kind {
	case OpLoadConnection, OpLoadTxo, OpLoadHeader, OpBuildTemplate:
		return fmt.Sprintf("%s(%d)", op.Kind, op.Index)
	case OpLoadTime:
		return fmt.Sprintf("%s(%d)", op.Kind, op.Time)
	case OpAdvanceTime:
		return fmt.Sprintf("%s(+%ds)", op.Kind, op.Seconds)
	case OpLoadBytes:
		return fmt.Sprintf("%s(%x)", op.Kind, op.Bytes)
	case OpLoadMsgType:
		return fmt.Sprintf("%s(%q)", op.Kind, op.Command)
	case OpBuildTransaction:
		return fmt.Sprintf("%s(fee=%d)", op.Kind, op.Fee)
	default:
		return op.Kind.String()
	}
}

// Op returns a parameterless operation of the given kind.
func Op(kind OpKind) Operation { return Operation{Kind: kind} }

func LoadConnection(index uint64) Operation {
	return Operation{Kind: OpLoadConnection, Index: index}
}

func LoadTime(t uint64) Operation { return Operation{Kind: OpLoadTime, Time: t} }

func LoadBytes(b []byte) Operation { return Operation{Kind: OpLoadBytes, Bytes: b} }

func LoadMsgType(command string) Operation {
	return Operation{Kind: OpLoadMsgType, Command: command}
}

func LoadTxo(index uint64) Operation { return Operation{Kind: OpLoadTxo, Index: index} }

func LoadHeader(index uint64) Operation { return Operation{Kind: OpLoadHeader, Index: index} }

func AdvanceTime(seconds uint64) Operation {
	return Operation{Kind: OpAdvanceTime, Seconds: seconds}
}

// BuildTransaction spends its txo input into a single anyone-can-spend
// output worth value-fee.
func BuildTransaction(fee uint64) Operation {
	return Operation{Kind: OpBuildTransaction, Fee: fee, Version: 2}
}

func BuildTemplate(headerIndex uint64) Operation {
	return Operation{Kind: OpBuildTemplate, Index: headerIndex}
}
