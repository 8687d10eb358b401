package scenario

import (
	"fmt"
	"os"

	"github.com/brunoerg/fuzzamoto/internal/compiler"
	"github.com/brunoerg/fuzzamoto/internal/ir"
	"github.com/brunoerg/fuzzamoto/internal/target"
)

// Chain snapshot cut-offs. Coinbases below MatureTxoHeight are offered as
// spendable outputs; headers above HeaderMinHeight are offered for
// building on top of the tip.
const (
	MatureTxoHeight = 100
	HeaderMinHeight = 190
)

// BuildProgramContext describes one node reached over numConnections
// connections at the given time.
func BuildProgramContext(numConnections int, timestamp uint64) ir.ProgramContext {
	return ir.ProgramContext{
		NumNodes:       1,
		NumConnections: numConnections,
		Timestamp:      timestamp,
	}
}

// BuildTxos returns the coinbase outputs of chain blocks below
// MatureTxoHeight, in chain order. Every coinbase pays CoinbaseValue to
// the OP_TRUE witness script.
func BuildTxos(chain []target.Block) []ir.Txo {
	var txos []ir.Txo
	for _, b := range chain {
		if b.Height >= MatureTxoHeight {
			continue
		}
		txos = append(txos, ir.Txo{
			Outpoint:        ir.Outpoint{Txid: b.CoinbaseTxid, Vout: 0},
			Value:           compiler.CoinbaseValue,
			ScriptPubKey:    append([]byte(nil), compiler.OpTrueScriptPubKey...),
			SpendingWitness: [][]byte{{0x51}},
		})
	}
	return txos
}

// BuildHeaders returns the headers of chain blocks above HeaderMinHeight.
func BuildHeaders(chain []target.Block) []ir.Header {
	var headers []ir.Header
	for _, b := range chain {
		if b.Height <= HeaderMinHeight {
			continue
		}
		headers = append(headers, ir.Header{
			Prev:       b.Header.Prev,
			MerkleRoot: b.Header.MerkleRoot,
			Nonce:      b.Header.Nonce,
			Bits:       b.Header.Bits,
			Time:       b.Header.Time,
			Version:    b.Header.Version,
			Height:     b.Height,
		})
	}
	return headers
}

// BuildFullContext assembles the context blob for a scenario setup.
func BuildFullContext(numConnections int, timestamp uint64, chain []target.Block) *ir.FullProgramContext {
	return &ir.FullProgramContext{
		Context: BuildProgramContext(numConnections, timestamp),
		Txos:    BuildTxos(chain),
		Headers: BuildHeaders(chain),
	}
}

// Resources returns the compiler resource tables of a context blob.
func Resources(full *ir.FullProgramContext) compiler.Resources {
	return compiler.Resources{Txos: full.Txos, Headers: full.Headers}
}

// DumpContext writes the encoded context blob to path.
func DumpContext(path string, full *ir.FullProgramContext) error {
	data, err := ir.EncodeContext(full)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dump context to %s: %w", path, err)
	}
	return nil
}
