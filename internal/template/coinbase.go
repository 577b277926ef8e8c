package template

import (
	"bytes"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/multipool/pkg/errors"
)

// DefaultSubsidyMultiple converts whole-coin reward fields to base units.
const DefaultSubsidyMultiple = 100_000_000

// Reward is the block reward split used to build the coinbase.
type Reward struct {
	Miner         int64
	FundingStream int64
	Total         int64
	// FeesIncluded is set when the daemon's coinbasevalue already counts fees.
	FeesIncluded bool
}

// ComputeReward derives the reward breakdown from a template. Templates that
// carry a "miner" field are scaled by subsidyMultiple; with funding streams
// enabled the streams are added on top of the miner portion.
func ComputeReward(tpl *BlockTemplate, subsidyMultiple int64, fundingStreams bool) Reward {
	if subsidyMultiple <= 0 {
		subsidyMultiple = DefaultSubsidyMultiple
	}
	if tpl.MinerReward == 0 {
		return Reward{Miner: tpl.CoinbaseValue, Total: tpl.CoinbaseValue, FeesIncluded: true}
	}

	if !fundingStreams {
		total := int64(math.Round(tpl.MinerReward * float64(subsidyMultiple)))
		return Reward{Miner: total, Total: total}
	}

	miner := int64(math.Round(tpl.MinerReward * DefaultSubsidyMultiple))
	var streams int64
	for _, fs := range tpl.FundingStreams {
		streams += fs.ValueZat
	}
	return Reward{Miner: miner, FundingStream: streams, Total: miner + streams}
}

// FeeExtractor totals the fees of a template's transactions.
type FeeExtractor func(txs []Transaction) int64

// SumFees is the default FeeExtractor.
func SumFees(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Fee
	}
	return total
}

// Coinbase is a serialized coinbase split around the extranonce placeholder.
type Coinbase struct {
	Part1 []byte
	Part2 []byte
}

// Serialize joins the coinbase halves around the given extranonces.
func (c Coinbase) Serialize(extraNonce1, extraNonce2 []byte) []byte {
	out := make([]byte, 0, len(c.Part1)+len(extraNonce1)+len(extraNonce2)+len(c.Part2))
	out = append(out, c.Part1...)
	out = append(out, extraNonce1...)
	out = append(out, extraNonce2...)
	return append(out, c.Part2...)
}

// CoinbaseBuilder produces the coinbase for a template. The returned halves
// surround a gap of exactly len(placeholder) bytes.
type CoinbaseBuilder interface {
	BuildCoinbase(tpl *BlockTemplate, reward Reward, fees int64, placeholder []byte) (Coinbase, error)
}

// Recipient receives a percentage of the block reward.
type Recipient struct {
	Address string
	Percent float64
}

// CoinbaseConfig configures the default coinbase builder.
type CoinbaseConfig struct {
	PoolAddress string
	Recipients  []Recipient
	ChainParams *chaincfg.Params
	// Tag is pushed after the BIP34 height.
	Tag string
	// AddressScript overrides address decoding, for chains whose address
	// encoding btcutil does not know.
	AddressScript func(address string) ([]byte, error)
}

// TxCoinbaseBuilder builds a bitcoin wire-format coinbase transaction.
type TxCoinbaseBuilder struct {
	cfg        CoinbaseConfig
	poolScript []byte
}

// NewTxCoinbaseBuilder validates the pool address and returns a builder.
func NewTxCoinbaseBuilder(cfg CoinbaseConfig) (*TxCoinbaseBuilder, error) {
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}
	if cfg.Tag == "" {
		cfg.Tag = "/multipool/"
	}
	b := &TxCoinbaseBuilder{cfg: cfg}
	if cfg.AddressScript == nil {
		b.cfg.AddressScript = b.payToAddress
	}

	script, err := b.cfg.AddressScript(cfg.PoolAddress)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "coinbase_builder", "invalid pool address").
			WithContext("address", cfg.PoolAddress)
	}
	b.poolScript = script
	return b, nil
}

func (b *TxCoinbaseBuilder) payToAddress(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.cfg.ChainParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// BuildCoinbase implements CoinbaseBuilder. Recipients are paid their
// percentage of the miner reward plus fees, funding streams their fixed
// value, and the pool address the remainder.
func (b *TxCoinbaseBuilder) BuildCoinbase(tpl *BlockTemplate, reward Reward, fees int64, placeholder []byte) (Coinbase, error) {
	height, err := txscript.NewScriptBuilder().AddInt64(tpl.Height).Script()
	if err != nil {
		return Coinbase{}, fmt.Errorf("height script: %w", err)
	}

	sigScript := make([]byte, 0, len(height)+len(b.cfg.Tag)+len(placeholder))
	sigScript = append(sigScript, height...)
	sigScript = append(sigScript, b.cfg.Tag...)
	sigScript = append(sigScript, placeholder...)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: wire.MaxPrevOutIndex},
		SignatureScript:  sigScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})

	distributable := reward.Miner
	if !reward.FeesIncluded {
		distributable += fees
	}
	remaining := distributable

	for _, r := range b.cfg.Recipients {
		script, err := b.cfg.AddressScript(r.Address)
		if err != nil {
			return Coinbase{}, fmt.Errorf("recipient %s: %w", r.Address, err)
		}
		value := int64(math.Floor(float64(distributable) * r.Percent / 100))
		remaining -= value
		tx.AddTxOut(wire.NewTxOut(value, script))
	}

	for _, fs := range tpl.FundingStreams {
		if reward.FundingStream == 0 {
			break
		}
		script, err := b.cfg.AddressScript(fs.Address)
		if err != nil {
			return Coinbase{}, fmt.Errorf("funding stream %s: %w", fs.Address, err)
		}
		tx.AddTxOut(wire.NewTxOut(fs.ValueZat, script))
	}

	if remaining < 0 {
		return Coinbase{}, fmt.Errorf("recipient percentages exceed the reward")
	}
	// Pool output goes first so wallets see it as the primary payout.
	tx.TxOut = append([]*wire.TxOut{wire.NewTxOut(remaining, b.poolScript)}, tx.TxOut...)

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return Coinbase{}, fmt.Errorf("serialize coinbase: %w", err)
	}

	raw := buf.Bytes()
	at := bytes.Index(raw, placeholder)
	if at < 0 {
		return Coinbase{}, fmt.Errorf("placeholder not found in serialized coinbase")
	}
	return Coinbase{
		Part1: bytes.Clone(raw[:at]),
		Part2: bytes.Clone(raw[at+len(placeholder):]),
	}, nil
}
