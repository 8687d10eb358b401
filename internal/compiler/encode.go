package compiler

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"fortio.org/safecast"

	"github.com/brunoerg/fuzzamoto/internal/ir"
)

const (
	// CoinbaseValue is the output value of every synthesized coinbase.
	CoinbaseValue = 25 * 100_000_000

	maxSequence   = 0xffffffff
	maxPowRetries = 1 << 16
)

// OpTrueScriptPubKey is the P2WSH output locking to OP_TRUE. Spending it
// only needs the witness script {0x51}.
var OpTrueScriptPubKey = []byte{
	0x00, 0x20, 0x4a, 0xe8, 0x15, 0x72, 0xf0, 0x6e, 0x1b, 0x88, 0xfd, 0x5c, 0xed, 0x7a, 0x1a, 0x00,
	0x09, 0x45, 0x43, 0x2e, 0x83, 0xe1, 0x55, 0x1e, 0x6f, 0x72, 0x1e, 0xe9, 0xc0, 0x0b, 0x8c, 0xc3,
	0x32, 0x60,
}

var witnessCommitmentHeader = []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}

type txIn struct {
	prev      ir.Outpoint
	scriptSig []byte
	sequence  uint32
	witness   [][]byte
}

type txOut struct {
	value  uint64
	script []byte
}

type transaction struct {
	version  int32
	inputs   []txIn
	outputs  []txOut
	lockTime uint32
}

func (tx *transaction) hasWitness() bool {
	for _, in := range tx.inputs {
		if len(in.witness) > 0 {
			return true
		}
	}
	return false
}

func (tx *transaction) serialize(withWitness bool) []byte {
	var buf bytes.Buffer
	witness := withWitness && tx.hasWitness()

	writeUint32(&buf, uint32(tx.version))
	if witness {
		buf.Write([]byte{0x00, 0x01})
	}
	writeCompactSize(&buf, len(tx.inputs))
	for _, in := range tx.inputs {
		buf.Write(in.prev.Txid[:])
		writeUint32(&buf, in.prev.Vout)
		writeVarBytes(&buf, in.scriptSig)
		writeUint32(&buf, in.sequence)
	}
	writeCompactSize(&buf, len(tx.outputs))
	for _, out := range tx.outputs {
		writeUint64(&buf, out.value)
		writeVarBytes(&buf, out.script)
	}
	if witness {
		for _, in := range tx.inputs {
			writeCompactSize(&buf, len(in.witness))
			for _, item := range in.witness {
				writeVarBytes(&buf, item)
			}
		}
	}
	writeUint32(&buf, tx.lockTime)
	return buf.Bytes()
}

func (tx *transaction) txid() [32]byte {
	return doubleSHA256(tx.serialize(false))
}

func (tx *transaction) wtxid() [32]byte {
	return doubleSHA256(tx.serialize(true))
}

// coinbase builds a BIP34 coinbase paying CoinbaseValue to OP_TRUE. When
// commitment is non-nil a witness commitment output is added.
func coinbase(height uint32, commitment *[32]byte) *transaction {
	var scriptSig bytes.Buffer
	writeScriptNum(&scriptSig, int64(height))
	scriptSig.WriteByte(0x00)

	tx := &transaction{
		version: 2,
		inputs: []txIn{{
			prev:      ir.Outpoint{Vout: maxSequence},
			scriptSig: scriptSig.Bytes(),
			sequence:  maxSequence,
		}},
		outputs: []txOut{{value: CoinbaseValue, script: OpTrueScriptPubKey}},
	}
	if commitment != nil {
		script := append(bytes.Clone(witnessCommitmentHeader), commitment[:]...)
		tx.outputs = append(tx.outputs, txOut{value: 0, script: script})
		tx.inputs[0].witness = [][]byte{make([]byte, 32)}
	}
	return tx
}

func encodeHeader(h ir.Header) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(h.Version))
	buf.Write(h.Prev[:])
	buf.Write(h.MerkleRoot[:])
	writeUint32(&buf, h.Time)
	writeUint32(&buf, h.Bits)
	writeUint32(&buf, h.Nonce)
	return buf.Bytes()
}

// HeaderHash returns the block hash of h in internal byte order.
func HeaderHash(h ir.Header) [32]byte {
	return doubleSHA256(encodeHeader(h))
}

func merkleRoot(hashes [][32]byte) [32]byte {
	if len(hashes) == 0 {
		return [32]byte{}
	}
	level := append([][32]byte(nil), hashes...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var pair [64]byte
			copy(pair[:32], level[i][:])
			copy(pair[32:], level[i+1][:])
			next = append(next, doubleSHA256(pair[:]))
		}
		level = next
	}
	return level[0]
}

// witnessCommitment computes the BIP141 commitment over wtxids with a zero
// reserved value. The coinbase wtxid is defined as zero.
func witnessCommitment(txs []*transaction) [32]byte {
	wtxids := make([][32]byte, len(txs)+1)
	for i, tx := range txs {
		wtxids[i+1] = tx.wtxid()
	}
	root := merkleRoot(wtxids)
	var data [64]byte
	copy(data[:32], root[:])
	return doubleSHA256(data[:])
}

// compactToTarget expands the compact difficulty encoding.
func compactToTarget(bits uint32) *big.Int {
	exponent := uint(bits >> 24)
	mantissa := big.NewInt(int64(bits & 0x007fffff))
	if exponent <= 3 {
		return mantissa.Rsh(mantissa, 8*(3-exponent))
	}
	return mantissa.Lsh(mantissa, 8*(exponent-3))
}

func checkProofOfWork(h ir.Header) bool {
	hash := HeaderHash(h)
	// Hashes compare as little-endian integers.
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return new(big.Int).SetBytes(hash[:]).Cmp(compactToTarget(h.Bits)) <= 0
}

// solve grinds the nonce until h meets its own target or the retry budget
// is spent. Regtest difficulty needs about two attempts.
func solve(h *ir.Header) {
	for i := 0; i < maxPowRetries; i++ {
		if checkProofOfWork(*h) {
			return
		}
		h.Nonce++
	}
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func writeCompactSize(buf *bytes.Buffer, n int) {
	v := safecast.MustConv[uint64](n)
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(v)))
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		writeUint32(buf, uint32(v))
	default:
		buf.WriteByte(0xff)
		writeUint64(buf, v)
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeCompactSize(buf, len(b))
	buf.Write(b)
}

// writeScriptNum pushes n the way CScript() << n does.
func writeScriptNum(buf *bytes.Buffer, n int64) {
	switch {
	case n == 0:
		buf.WriteByte(0x00)
		return
	case n >= 1 && n <= 16:
		buf.WriteByte(byte(0x50 + n))
		return
	}

	var num []byte
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	for abs > 0 {
		num = append(num, byte(abs&0xff))
		abs >>= 8
	}
	if num[len(num)-1]&0x80 != 0 {
		if neg {
			num = append(num, 0x80)
		} else {
			num = append(num, 0x00)
		}
	} else if neg {
		num[len(num)-1] |= 0x80
	}
	buf.WriteByte(byte(len(num)))
	buf.Write(num)
}
