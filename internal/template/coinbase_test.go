package template

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

const genesisAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func TestTxCoinbaseBuilder(t *testing.T) {
	b, err := NewTxCoinbaseBuilder(CoinbaseConfig{
		PoolAddress: genesisAddress,
		Recipients:  []Recipient{{Address: genesisAddress, Percent: 1}},
		ChainParams: &chaincfg.MainNetParams,
	})
	if err != nil {
		t.Fatalf("NewTxCoinbaseBuilder() error = %v", err)
	}

	tpl := testTemplate()
	reward := Reward{Miner: 100_000_000, Total: 100_000_000}
	cb, err := b.BuildCoinbase(tpl, reward, 5000, ExtraNoncePlaceholder)
	if err != nil {
		t.Fatalf("BuildCoinbase() error = %v", err)
	}

	raw := cb.Serialize(ExtraNoncePlaceholder, nil)
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("coinbase does not deserialize: %v", err)
	}

	sig := tx.TxIn[0].SignatureScript
	if !bytes.HasSuffix(sig, ExtraNoncePlaceholder) {
		t.Errorf("signature script %x should end with the placeholder", sig)
	}
	// BIP34: push of height 1000 (0x03e8) as a 2-byte little-endian number.
	if !bytes.HasPrefix(sig, []byte{0x02, 0xe8, 0x03}) {
		t.Errorf("signature script %x should start with the height push", sig)
	}
	if tx.TxIn[0].PreviousOutPoint.Index != wire.MaxPrevOutIndex {
		t.Error("coinbase input must spend the null outpoint")
	}

	if len(tx.TxOut) != 2 {
		t.Fatalf("outputs = %d, want 2", len(tx.TxOut))
	}
	if tx.TxOut[1].Value != 1_000_050 {
		t.Errorf("recipient value = %d, want 1000050", tx.TxOut[1].Value)
	}
	if tx.TxOut[0].Value != 100_005_000-1_000_050 {
		t.Errorf("pool value = %d", tx.TxOut[0].Value)
	}

	miner := cb.Serialize([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})
	if len(miner) != len(raw) || bytes.Contains(miner, ExtraNoncePlaceholder) {
		t.Error("extranonces should replace the placeholder in place")
	}
}

func TestTxCoinbaseBuilderInvalidAddress(t *testing.T) {
	if _, err := NewTxCoinbaseBuilder(CoinbaseConfig{PoolAddress: "not-an-address"}); err == nil {
		t.Error("invalid pool address should fail")
	}
}

func TestTxCoinbaseBuilderOverAllocated(t *testing.T) {
	b, err := NewTxCoinbaseBuilder(CoinbaseConfig{
		PoolAddress: genesisAddress,
		Recipients:  []Recipient{{Address: genesisAddress, Percent: 60}, {Address: genesisAddress, Percent: 60}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.BuildCoinbase(testTemplate(), Reward{Miner: 1000, FeesIncluded: true}, 0, ExtraNoncePlaceholder); err == nil {
		t.Error("percentages above 100 should fail")
	}
}
