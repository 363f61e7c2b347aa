package blockbuilder

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpool/btcmine/internal/rpcclient"
)

// emptyTxHex is the raw serialization of a minimal legacy transaction: one
// input spending the null outpoint with an empty script, one zero-value
// output with an empty script, locktime 0. Built from literal field
// encodings rather than transcribed from an external source, so every byte
// here is accounted for: 4B version + 1B incount + (32B hash + 4B index +
// 1B scriptlen + 4B sequence) + 1B outcount + (8B value + 1B scriptlen) +
// 4B locktime.
var emptyTxHex = "01000000" +
	"01" +
	strings.Repeat("00", 32) + "ffffffff" + "00" + "ffffffff" +
	"01" +
	"0000000000000000" + "00" +
	"00000000"

// testMinerAddress builds a P2PKH address straight from a 20-byte hash,
// sidestepping any base58check string that would need independent
// verification.
func testMinerAddress(t *testing.T) btcutil.Address {
	t.Helper()
	hash160 := make([]byte, 20)
	addr, err := btcutil.NewAddressPubKeyHash(hash160, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func trivialTemplate() *rpcclient.BlockTemplate {
	var zeroHash chainhash.Hash
	return &rpcclient.BlockTemplate{
		Version:       1,
		PreviousHash:  zeroHash.String(),
		CoinbaseValue: 5000000000,
		Bits:          "207fffff",
		CurTime:       1231006505,
		Height:        42,
	}
}

func TestBuildAssemblesCoinbaseAndMerkleRoot(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()

	cb, err := Build(tmpl, addr)
	require.NoError(t, err)

	require.Len(t, cb.Block.Transactions, 1, "coinbase only, no template transactions")
	coinbase := cb.Block.Transactions[0]
	require.Len(t, coinbase.TxOut, 2, "reward output + witness commitment output")
	assert.Equal(t, int64(5000000000), coinbase.TxOut[0].Value)
	assert.Equal(t, int64(0), coinbase.TxOut[1].Value)

	// Merkle root of a single-transaction block is that transaction's txid.
	assert.Equal(t, coinbase.TxHash(), cb.Block.Header.MerkleRoot)
}

func TestBuildRejectsUndecodableTemplateTransaction(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()
	tmpl.Transactions = append(tmpl.Transactions, rpcclient.TxTemplate{Data: "zz"})

	_, err := Build(tmpl, addr)
	require.Error(t, err)
}

func TestBuildIgnoresTransactionsPastTheCap(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()
	// Only the (maxIncludedTransactions+1)'th entry is invalid; Build must
	// never reach it, proving the cap is enforced before decoding.
	for i := 0; i < maxIncludedTransactions; i++ {
		tmpl.Transactions = append(tmpl.Transactions, rpcclient.TxTemplate{Data: emptyTxHex})
	}
	tmpl.Transactions = append(tmpl.Transactions, rpcclient.TxTemplate{Data: "zz"})

	cb, err := Build(tmpl, addr)
	require.NoError(t, err)
	assert.Len(t, cb.Block.Transactions, maxIncludedTransactions+1, "coinbase + 800 included transactions")
}

func TestMiningTemplateReflectsHeader(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()
	cb, err := Build(tmpl, addr)
	require.NoError(t, err)

	mt := cb.MiningTemplate()
	assert.Equal(t, int32(1), mt.Version)
	assert.Equal(t, uint32(1231006505), mt.Timestamp)
	assert.Equal(t, uint32(0x207fffff), mt.BitsDifficulty)
}

func TestApplyNonceAndIsValid(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()
	cb, err := Build(tmpl, addr)
	require.NoError(t, err)

	found := false
	for nonce := uint32(0); nonce < 200000; nonce++ {
		cb.ApplyNonce(nonce, tmpl.CurTime)
		if cb.IsValid() {
			found = true
			break
		}
	}
	require.True(t, found, "expected a valid nonce at trivial difficulty 0x207fffff")
}

func TestSerializeHexProducesNonEmptyOutput(t *testing.T) {
	addr := testMinerAddress(t)
	tmpl := trivialTemplate()
	cb, err := Build(tmpl, addr)
	require.NoError(t, err)
	cb.ApplyNonce(1, tmpl.CurTime)

	hexStr, err := cb.SerializeHex()
	require.NoError(t, err)
	assert.NotEmpty(t, hexStr)
}
