// Package blockbuilder constructs the CandidateBlock of spec.md §3: a
// coinbase transaction with a BIP34 height-encoded script, the template's
// transaction list, and a BIP141 witness commitment, wrapped around the
// mutable nNonce/nTime fields the hash kernel patches on a hit.
//
// spec.md §1 names the coinbase/witness-commitment builder as an external
// collaborator "assumed available as a library"; no such ready-made helper
// is retrieved in the pack (kangaroo-exccd's cpuminer.go works against an
// Equihash-based fork with a different coinbase/commitment shape), so this
// package builds it directly on github.com/btcsuite/btcd's wire/txscript
// primitives — the same level kangaroo-exccd itself operates at
// (wire.MsgBlock, blockchain.CompactToBig, blockchain.HashToBig) — rather
// than reaching for a higher-level helper that doesn't exist in the
// ecosystem for this exact shape. Grounded on
// original_source/pool/src/helpers/btc_util.py's create_coinbase /
// create_mining_block / get_mining_template.
package blockbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashpool/btcmine/internal/header"
	"github.com/hashpool/btcmine/internal/rpcclient"
)

// maxIncludedTransactions mirrors original_source's "txn_count >= 800:
// break" cap (spec.md §4.5 step 3).
const maxIncludedTransactions = 800

// coinbaseSequence matches original_source's nSequence = 2**32 - 2.
const coinbaseSequence = 0xfffffffe

// coinbasePrevOutIndex is the canonical "null" previous-output index used
// by every coinbase input.
const coinbasePrevOutIndex = 0xffffffff

// witnessCommitmentHeader is the BIP141 magic bytes prefixing the
// commitment hash inside the coinbase's OP_RETURN output.
var witnessCommitmentHeader = []byte{0xaa, 0x21, 0xa9, 0xed}

// CandidateBlock is the coordinator-owned full block object of spec.md §3:
// template fields plus coinbase, transaction list, witness commitment, and
// mutable nonce/timestamp.
type CandidateBlock struct {
	Block  *wire.MsgBlock
	Height int64
	Target *big.Int
}

// Build assembles a CandidateBlock from a fresh getblocktemplate response,
// per spec.md §4.5 step 3: a coinbase paying minerAddress the template's
// coinbasevalue with a BIP34 height script, up to 800 included
// transactions in template order, and a witness commitment.
func Build(tmpl *rpcclient.BlockTemplate, minerAddress btcutil.Address) (*CandidateBlock, error) {
	bits, err := parseBits(tmpl.Bits)
	if err != nil {
		return nil, fmt.Errorf("blockbuilder: parse bits %q: %w", tmpl.Bits, err)
	}

	prevBlockHash, err := chainhash.NewHashFromStr(tmpl.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("blockbuilder: parse previousblockhash: %w", err)
	}

	coinbaseTx, err := buildCoinbase(tmpl.Height, tmpl.CoinbaseValue, minerAddress)
	if err != nil {
		return nil, fmt.Errorf("blockbuilder: build coinbase: %w", err)
	}

	block := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   tmpl.Version,
		PrevBlock: *prevBlockHash,
		Timestamp: time.Unix(int64(tmpl.CurTime), 0),
		Bits:      bits,
	})

	if err := block.AddTransaction(coinbaseTx); err != nil {
		return nil, fmt.Errorf("blockbuilder: add coinbase: %w", err)
	}

	for i, txTmpl := range tmpl.Transactions {
		if i >= maxIncludedTransactions {
			break
		}
		tx, err := decodeRawTx(txTmpl.Data)
		if err != nil {
			return nil, fmt.Errorf("blockbuilder: decode template tx %d: %w", i, err)
		}
		if err := block.AddTransaction(tx); err != nil {
			return nil, fmt.Errorf("blockbuilder: add template tx %d: %w", i, err)
		}
	}

	if err := attachWitnessCommitment(block); err != nil {
		return nil, fmt.Errorf("blockbuilder: witness commitment: %w", err)
	}

	if err := setMerkleRoot(block); err != nil {
		return nil, fmt.Errorf("blockbuilder: merkle root: %w", err)
	}

	return &CandidateBlock{
		Block:  block,
		Height: tmpl.Height,
		Target: blockchain.CompactToBig(bits),
	}, nil
}

func parseBits(hexBits string) (uint32, error) {
	v, err := strconv.ParseUint(hexBits, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func decodeRawTx(hexData string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// buildCoinbase mirrors original_source's create_coinbase: a single input
// spending the null outpoint with a BIP34 height-encoded signature script,
// and a single output paying minerAddress the template's coinbasevalue.
func buildCoinbase(height int64, value int64, minerAddress btcutil.Address) (*wire.MsgTx, error) {
	heightScript, err := txscript.NewScriptBuilder().AddInt64(height).Script()
	if err != nil {
		return nil, fmt.Errorf("build height script: %w", err)
	}

	payScript, err := txscript.PayToAddrScript(minerAddress)
	if err != nil {
		return nil, fmt.Errorf("build pay-to-address script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: coinbasePrevOutIndex},
		SignatureScript:  heightScript,
		Sequence:         coinbaseSequence,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    value,
		PkScript: payScript,
	})
	return tx, nil
}

// attachWitnessCommitment appends a BIP141 witness commitment output to
// the coinbase transaction. The coinbase's own contribution to the witness
// merkle tree is the all-zero hash, per BIP141, since it is computed
// before this output exists.
func attachWitnessCommitment(block *wire.MsgBlock) error {
	if len(block.Transactions) == 0 {
		return fmt.Errorf("no coinbase transaction present")
	}

	hashes := make([]chainhash.Hash, len(block.Transactions))
	hashes[0] = chainhash.Hash{} // BIP141: coinbase wtxid is assumed zero
	for i := 1; i < len(block.Transactions); i++ {
		hashes[i] = block.Transactions[i].WitnessHash()
	}

	witnessRoot := merkleRoot(hashes)
	var reserved chainhash.Hash // all-zero witness reserved value
	commitment := chainhash.DoubleHashH(append(append([]byte{}, witnessRoot[:]...), reserved[:]...))

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(append(append([]byte{}, witnessCommitmentHeader...), commitment[:]...)).
		Script()
	if err != nil {
		return err
	}

	block.Transactions[0].AddTxOut(&wire.TxOut{Value: 0, PkScript: script})
	return nil
}

// setMerkleRoot recomputes and stores the block header's transaction
// merkle root from the current transaction list's (non-witness) txids.
func setMerkleRoot(block *wire.MsgBlock) error {
	if len(block.Transactions) == 0 {
		return fmt.Errorf("no transactions present")
	}
	hashes := make([]chainhash.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.TxHash()
	}
	block.Header.MerkleRoot = merkleRoot(hashes)
	return nil
}

// merkleRoot computes the standard Bitcoin merkle root over leaf hashes:
// pairwise double-SHA256, duplicating the last element at each level with
// an odd count.
func merkleRoot(hashes []chainhash.Hash) chainhash.Hash {
	if len(hashes) == 0 {
		return chainhash.Hash{}
	}
	level := make([]chainhash.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			buf := make([]byte, 0, chainhash.HashSize*2)
			buf = append(buf, level[i][:]...)
			buf = append(buf, level[i+1][:]...)
			next = append(next, chainhash.DoubleHashH(buf))
		}
		level = next
	}
	return level[0]
}

// MiningTemplate derives the five header-determining fields broadcast to
// workers (spec.md §4.5 step 4), matching original_source's
// get_mining_template.
func (cb *CandidateBlock) MiningTemplate() header.Template {
	h := cb.Block.Header
	return header.Template{
		Version:        h.Version,
		PrevBlock:      [32]byte(h.PrevBlock),
		MrklRoot:       [32]byte(h.MerkleRoot),
		Timestamp:      uint32(h.Timestamp.Unix()),
		BitsDifficulty: h.Bits,
	}
}

// ApplyNonce patches the block header with a worker-reported nonce and the
// timestamp actually used (which may have been incremented by the worker
// during range-exhaustion retries, spec.md §4.3).
func (cb *CandidateBlock) ApplyNonce(nonce, timestamp uint32) {
	cb.Block.Header.Nonce = nonce
	cb.Block.Header.Timestamp = time.Unix(int64(timestamp), 0)
}

// IsValid runs the block's self-check (spec.md §4.4's "recompute its
// header hash, and validate"): the header hash must be strictly below the
// block's compact target.
func (cb *CandidateBlock) IsValid() bool {
	hash := cb.Block.Header.BlockHash()
	return blockchain.HashToBig(&hash).Cmp(cb.Target) < 0
}

// SerializeHex returns the full block serialized as a hex string, ready
// for the submitblock RPC.
func (cb *CandidateBlock) SerializeHex() (string, error) {
	var buf bytes.Buffer
	if err := cb.Block.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
