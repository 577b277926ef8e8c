// Package algo maps proof-of-work algorithm identifiers to the family that
// shapes their jobs, the share difficulty multiplier, and the hash primitives
// used to check submitted work.
package algo

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Family selects the job layout and the share validation branch.
type Family int

const (
	// FamilyUTXO covers bitcoin-style chains with 80-byte headers.
	FamilyUTXO Family = iota
	// FamilyEquihash covers Zcash-style chains with 140-byte headers and solutions.
	FamilyEquihash
	// FamilyAccountDAG covers account-model chains mined with a DAG (ethash and kin).
	FamilyAccountDAG
)

func (f Family) String() string {
	switch f {
	case FamilyUTXO:
		return "utxo"
	case FamilyEquihash:
		return "equihash"
	case FamilyAccountDAG:
		return "account_dag"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// HashFunc computes the proof-of-work digest of a serialized header. Some
// algorithms mix in the submitted nTime.
type HashFunc func(header []byte, nTime uint32) ([]byte, error)

// EquihashVerifier reports whether solution is valid for header under the
// given parameters. The solution has its length prefix already stripped.
type EquihashVerifier func(header, solution []byte, params Params) (bool, error)

// DAGVerifier runs the DAG proof for a submitted nonce and mix digest and
// returns the resulting 256-bit value, to be compared against the job target.
type DAGVerifier func(headerHash common.Hash, nonce uint64, mixHash common.Hash, epoch uint64) (*uint256.Int, error)

// Params carries per-algorithm constants.
type Params struct {
	// Equihash
	N               uint32
	K               uint32
	Personalization string

	// DAG
	EpochLength uint64

	// scrypt
	ScryptN int
	ScryptR int

	// NormalHashing switches keccak to keccak(keccak(header|nTime)) and
	// double-SHA256 coinbase hashing.
	NormalHashing bool
}

// NK returns the "N_K" key used in job params and the solution table.
func (p Params) NK() string {
	if p.N == 0 || p.K == 0 {
		return ""
	}
	return fmt.Sprintf("%d_%d", p.N, p.K)
}

// Descriptor is the immutable description of one algorithm.
type Descriptor struct {
	ID         string
	Family     Family
	Multiplier float64
	Params     Params

	// Hash is the proof-of-work digest for UTXO chains. For Equihash chains
	// with NativeHeaderHash set it produces the header hash instead of
	// double-SHA256.
	Hash HashFunc
	// CoinbaseHash hashes the serialized coinbase before it enters the merkle tree.
	CoinbaseHash func(coinbase []byte) []byte
	// BlockHash produces the displayed block hash for a found UTXO block.
	BlockHash func(header []byte, nTime uint32) ([]byte, error)

	NativeHeaderHash bool
	VerifyEquihash   EquihashVerifier
	VerifyDAG        DAGVerifier

	hashBound bool
}

// HashBound reports whether Hash is a real primitive, either built in or
// supplied through WithHasher.
func (d Descriptor) HashBound() bool {
	return d.hashBound
}

// NeedsHash reports whether share validation calls Hash: every UTXO
// algorithm, and Equihash chains that hash headers natively.
func (d Descriptor) NeedsHash() bool {
	return d.Family == FamilyUTXO || d.Family == FamilyEquihash && d.NativeHeaderHash
}

// Epoch returns the DAG epoch for a block number.
func (d Descriptor) Epoch(blockNumber uint64) uint64 {
	if d.Params.EpochLength == 0 {
		return 0
	}
	return blockNumber / d.Params.EpochLength
}
