package compiler

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"

	"fortio.org/safecast"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

// Wire commands emitted by the send-type operations.
const (
	CommandTx          = "tx"
	CommandHeaders     = "headers"
	CommandBlock       = "block"
	CommandCmpctBlock  = "cmpctblock"
	CommandBlockTxn    = "blocktxn"
	CommandGetTemplate = "gettemplate"
	CommandTemplate    = "template"
)

const (
	// RegtestBits is used for headers whose parent carries no difficulty.
	RegtestBits = 0x207fffff

	blockVersion = 0x20000000
	txSequence   = 0xfffffffd
)

// Resources are the read-only tables a program is compiled against.
type Resources struct {
	Txos    []ir.Txo
	Headers []ir.Header
}

// Compiler lowers symbolic programs into compiled programs.
// A Compiler holds no per-program state and may be reused.
type Compiler struct {
	resources Resources
	logger    *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// New creates a compiler over the given resource tables.
func New(res Resources, opts ...Option) *Compiler {
	c := &Compiler{
		resources: res,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile performs a single forward pass over p, binding every output
// variable to a concrete value and emitting an action for every
// send-type or clock instruction.
//
// Every instruction is first type-checked against p's context with the
// builder's rules, so programs decoded from raw input get the same checks
// as built ones.
//
// Compilation is all-or-nothing: on error the returned program is nil.
func (c *Compiler) Compile(p *ir.Program) (*CompiledProgram, error) {
	st := &compileState{res: &c.resources}
	check := ir.NewProgramBuilder(p.Context)

	for i, inst := range p.Instructions {
		if _, err := check.Append(inst); err != nil {
			return nil, fromTypeError(i, inst.Op.Kind, err)
		}
		st.pos = i
		st.inst = inst
		if err := st.step(); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("compiled program",
		"instructions", len(p.Instructions),
		"variables", len(st.env),
		"actions", len(st.actions))

	return &CompiledProgram{Actions: st.actions}, nil
}

// value is a concrete binding in the compile environment.
type value interface {
	kind() ir.VariableKind
}

type (
	connValue    int
	timeValue    uint64
	bytesValue   []byte
	msgTypeValue string
	txoValue     ir.Txo
	headerValue  ir.Header
)

type txValue struct{ tx *transaction }

// mutTxList is the only mutable binding: add_tx appends to it in place.
type mutTxList struct{ txs []*transaction }

type txListValue struct{ txs []*transaction }

type blockValue struct {
	header ir.Header
	// txs[0] is the coinbase.
	txs []*transaction
}

type templateValue struct{ block blockValue }

type blockTxnValue struct {
	blockHash [32]byte
	txs       []*transaction
}

func (connValue) kind() ir.VariableKind     { return ir.KindConnection }
func (timeValue) kind() ir.VariableKind     { return ir.KindTime }
func (bytesValue) kind() ir.VariableKind    { return ir.KindBytes }
func (msgTypeValue) kind() ir.VariableKind  { return ir.KindMsgType }
func (txoValue) kind() ir.VariableKind      { return ir.KindTxo }
func (headerValue) kind() ir.VariableKind   { return ir.KindHeader }
func (txValue) kind() ir.VariableKind       { return ir.KindTransaction }
func (*mutTxList) kind() ir.VariableKind    { return ir.KindMutTxList }
func (txListValue) kind() ir.VariableKind   { return ir.KindTxList }
func (blockValue) kind() ir.VariableKind    { return ir.KindBlock }
func (templateValue) kind() ir.VariableKind { return ir.KindTemplate }
func (blockTxnValue) kind() ir.VariableKind { return ir.KindBlockTxn }

type compileState struct {
	res     *Resources
	env     []value
	actions []CompiledAction

	pos  int
	inst ir.Instruction
}

func (st *compileState) fail(code, format string, args ...any) error {
	return &CompileError{
		Code:        code,
		Instruction: st.pos,
		Op:          st.inst.Op.Kind,
		Message:     fmt.Sprintf(format, args...),
	}
}

func (st *compileState) wrap(code string, err error, format string, args ...any) error {
	return &CompileError{
		Code:        code,
		Instruction: st.pos,
		Op:          st.inst.Op.Kind,
		Message:     fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// arg resolves input n of the current instruction as a T.
func arg[T value](st *compileState, n int) (T, error) {
	var zero T
	idx := st.inst.Inputs[n]
	if idx < 0 || idx >= len(st.env) {
		return zero, st.fail(ErrCodeUnbound, "input %d references unbound variable %d", n, idx)
	}
	v, ok := st.env[idx].(T)
	if !ok {
		return zero, st.fail(ErrCodeKindMismatch, "input %d: variable %d is %s, want %s",
			n, idx, st.env[idx].kind(), zero.kind())
	}
	return v, nil
}

func (st *compileState) bind(vals ...value) {
	st.env = append(st.env, vals...)
}

func (st *compileState) emit(a CompiledAction) {
	st.actions = append(st.actions, a)
}

func (st *compileState) send(command string, payload []byte) error {
	conn, err := arg[connValue](st, 0)
	if err != nil {
		return err
	}
	st.emit(SendRawMessage(int(conn), command, payload))
	return nil
}

func (st *compileState) step() error {
	op := st.inst.Op
	if !op.Kind.Valid() {
		return st.fail(ErrCodeUnknownOp, "unknown operation")
	}
	if want := len(op.Kind.Signature().Inputs); len(st.inst.Inputs) != want {
		return st.fail(ErrCodeUnbound, "expected %d inputs, got %d", want, len(st.inst.Inputs))
	}

	switch op.Kind {
	case ir.OpLoadConnection:
		idx, err := safecast.Conv[int](op.Index)
		if err != nil {
			return st.wrap(ErrCodeEncoding, err, "connection index")
		}
		st.bind(connValue(idx))

	case ir.OpLoadTime:
		st.bind(timeValue(op.Time))

	case ir.OpLoadBytes:
		st.bind(bytesValue(bytes.Clone(op.Bytes)))

	case ir.OpLoadMsgType:
		st.bind(msgTypeValue(op.Command))

	case ir.OpLoadTxo:
		if len(st.res.Txos) == 0 {
			return st.fail(ErrCodeEmptyResource, "no txos available")
		}
		st.bind(txoValue(st.res.Txos[op.Index%uint64(len(st.res.Txos))]))

	case ir.OpLoadHeader:
		h, err := st.header(op.Index)
		if err != nil {
			return err
		}
		st.bind(headerValue(h))

	case ir.OpAdvanceTime:
		t, err := arg[timeValue](st, 0)
		if err != nil {
			return err
		}
		next := uint64(t) + op.Seconds
		if next < uint64(t) {
			next = math.MaxUint64
		}
		st.bind(timeValue(next))

	case ir.OpSetTime:
		t, err := arg[timeValue](st, 0)
		if err != nil {
			return err
		}
		st.emit(SetTime(uint64(t)))

	case ir.OpBuildTransaction:
		return st.buildTransaction()

	case ir.OpBeginTxList:
		st.bind(&mutTxList{})

	case ir.OpAddTx:
		list, err := arg[*mutTxList](st, 0)
		if err != nil {
			return err
		}
		tx, err := arg[txValue](st, 1)
		if err != nil {
			return err
		}
		list.txs = append(list.txs, tx.tx)

	case ir.OpEndTxList:
		list, err := arg[*mutTxList](st, 0)
		if err != nil {
			return err
		}
		st.bind(txListValue{txs: append([]*transaction(nil), list.txs...)})

	case ir.OpBuildBlock:
		return st.buildBlock()

	case ir.OpBuildTemplate:
		parent, err := st.header(op.Index)
		if err != nil {
			return err
		}
		block, err := st.assemble(parent, uint64(parent.Time)+1, nil)
		if err != nil {
			return err
		}
		st.bind(templateValue{block: block})

	case ir.OpBuildBlockTxn:
		block, err := arg[blockValue](st, 0)
		if err != nil {
			return err
		}
		st.bind(blockTxnValue{blockHash: HeaderHash(block.header), txs: block.txs[1:]})

	case ir.OpSendRawMessage:
		cmd, err := arg[msgTypeValue](st, 1)
		if err != nil {
			return err
		}
		payload, err := arg[bytesValue](st, 2)
		if err != nil {
			return err
		}
		return st.send(string(cmd), bytes.Clone(payload))

	case ir.OpSendTx:
		tx, err := arg[txValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandTx, tx.tx.serialize(true))

	case ir.OpSendHeader:
		h, err := arg[headerValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandHeaders, encodeHeadersMessage(ir.Header(h)))

	case ir.OpSendBlock:
		block, err := arg[blockValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandBlock, encodeBlock(block))

	case ir.OpSendCmpctBlock:
		block, err := arg[blockValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandCmpctBlock, encodeCmpctBlock(block, uint64(st.pos)))

	case ir.OpSendGetTemplate:
		return st.send(CommandGetTemplate, nil)

	case ir.OpSendTemplate:
		tmpl, err := arg[templateValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandTemplate, encodeBlock(tmpl.block))

	case ir.OpSendBlockTxn:
		bt, err := arg[blockTxnValue](st, 1)
		if err != nil {
			return err
		}
		return st.send(CommandBlockTxn, encodeBlockTxn(bt))

	default:
		return st.fail(ErrCodeUnknownOp, "no lowering for operation")
	}
	return nil
}

func (st *compileState) header(index uint64) (ir.Header, error) {
	if len(st.res.Headers) == 0 {
		return ir.Header{}, st.fail(ErrCodeEmptyResource, "no headers available")
	}
	return st.res.Headers[index%uint64(len(st.res.Headers))], nil
}

func (st *compileState) buildTransaction() error {
	txo, err := arg[txoValue](st, 0)
	if err != nil {
		return err
	}
	op := st.inst.Op

	value := txo.Value - min(op.Fee, txo.Value)
	tx := &transaction{
		version: op.Version,
		inputs: []txIn{{
			prev:      txo.Outpoint,
			scriptSig: bytes.Clone(txo.SpendingScriptSig),
			sequence:  txSequence,
			witness:   txo.SpendingWitness,
		}},
		outputs:  []txOut{{value: value, script: OpTrueScriptPubKey}},
		lockTime: op.LockTime,
	}

	out := ir.Txo{
		Outpoint:        ir.Outpoint{Txid: tx.txid(), Vout: 0},
		Value:           value,
		ScriptPubKey:    OpTrueScriptPubKey,
		SpendingWitness: [][]byte{{0x51}},
	}
	st.bind(txValue{tx: tx}, txoValue(out))
	return nil
}

func (st *compileState) buildBlock() error {
	parent, err := arg[headerValue](st, 0)
	if err != nil {
		return err
	}
	t, err := arg[timeValue](st, 1)
	if err != nil {
		return err
	}
	list, err := arg[txListValue](st, 2)
	if err != nil {
		return err
	}

	block, err := st.assemble(ir.Header(parent), uint64(t), list.txs)
	if err != nil {
		return err
	}
	st.bind(block, headerValue(block.header))
	return nil
}

// assemble builds a solved block on top of parent containing a coinbase
// followed by txs.
func (st *compileState) assemble(parent ir.Header, t uint64, txs []*transaction) (blockValue, error) {
	blockTime, err := safecast.Conv[uint32](t)
	if err != nil {
		return blockValue{}, st.wrap(ErrCodeEncoding, err, "block time %d", t)
	}
	if parent.Height == math.MaxUint32 {
		return blockValue{}, st.fail(ErrCodeEncoding, "block height overflows")
	}
	height := parent.Height + 1

	var commitment *[32]byte
	for _, tx := range txs {
		if tx.hasWitness() {
			c := witnessCommitment(txs)
			commitment = &c
			break
		}
	}

	all := make([]*transaction, 0, len(txs)+1)
	all = append(all, coinbase(height, commitment))
	all = append(all, txs...)

	txids := make([][32]byte, len(all))
	for i, tx := range all {
		txids[i] = tx.txid()
	}

	bits := parent.Bits
	if bits == 0 {
		bits = RegtestBits
	}
	header := ir.Header{
		Prev:       HeaderHash(parent),
		MerkleRoot: merkleRoot(txids),
		Bits:       bits,
		Time:       blockTime,
		Version:    blockVersion,
		Height:     height,
	}
	solve(&header)

	return blockValue{header: header, txs: all}, nil
}

func encodeHeadersMessage(h ir.Header) []byte {
	var buf bytes.Buffer
	writeCompactSize(&buf, 1)
	buf.Write(encodeHeader(h))
	// Transaction count, always zero in a headers message.
	buf.WriteByte(0x00)
	return buf.Bytes()
}

func encodeBlock(b blockValue) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(b.header))
	writeCompactSize(&buf, len(b.txs))
	for _, tx := range b.txs {
		buf.Write(tx.serialize(true))
	}
	return buf.Bytes()
}

// encodeCmpctBlock announces b with the coinbase prefilled. Short ids are
// truncated wtxids rather than keyed SipHash values, so a receiving node
// cannot reconstruct the block from its mempool and must ask for the
// missing transactions.
func encodeCmpctBlock(b blockValue, nonce uint64) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(b.header))
	writeUint64(&buf, nonce)

	writeCompactSize(&buf, len(b.txs)-1)
	for _, tx := range b.txs[1:] {
		wtxid := tx.wtxid()
		buf.Write(wtxid[:6])
	}

	writeCompactSize(&buf, 1)
	writeCompactSize(&buf, 0)
	buf.Write(b.txs[0].serialize(true))
	return buf.Bytes()
}

func encodeBlockTxn(bt blockTxnValue) []byte {
	var buf bytes.Buffer
	buf.Write(bt.blockHash[:])
	writeCompactSize(&buf, len(bt.txs))
	for _, tx := range bt.txs {
		buf.Write(tx.serialize(true))
	}
	return buf.Bytes()
}
