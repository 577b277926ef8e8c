package template

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/multipool/internal/algo"
)

// EquihashJob is a job for a chain with 140-byte headers and an Equihash
// solution. The coinbase is fixed per job, so the merkle root is too.
type EquihashJob struct {
	base
	solution algo.SolutionSize
}

// Solution returns the expected solution size for the job's parameters.
func (j *EquihashJob) Solution() algo.SolutionSize {
	return j.solution
}

// RegisterSubmit records the submission and reports whether it is new.
func (j *EquihashJob) RegisterSubmit(nonce, solution string) bool {
	return j.shares.add(submissionKey(nonce, solution))
}

// SerializeHeader lays out version, previous hash, merkle root, reserved
// hash, time, bits and the 32-byte nonce. nTime is written as supplied; a
// short nonce occupies the low-order bytes of the nonce field.
func (j *EquihashJob) SerializeHeader(nTime, nonce []byte) ([]byte, error) {
	if len(nTime) != 4 || len(nonce) > 32 {
		return nil, fmt.Errorf("ntime must be 4 bytes and nonce at most 32, got %d and %d", len(nTime), len(nonce))
	}
	header := make([]byte, WideHeaderSize)
	pos := j.writeCommon(header, j.tree.Root)
	copy(header[pos:], j.reserved[:])
	pos += chainhash.HashSize
	copy(header[pos:], nTime)
	copy(header[pos+4:], j.bits[:])
	copy(header[pos+8:], nonce)
	return header, nil
}

// HeaderHash hashes header||solution: double-SHA256, or the chain's native
// hash for VerusHash-class chains.
func (j *EquihashJob) HeaderHash(headerSolution []byte) ([]byte, error) {
	if j.desc.NativeHeaderHash {
		return j.desc.Hash(headerSolution, 0)
	}
	return chainhash.DoubleHashB(headerSolution), nil
}

// SerializeBlock returns header, solution, transaction count, coinbase and
// transactions. Notary payment content replaces the solution when present.
func (j *EquihashJob) SerializeBlock(header, solution []byte) []byte {
	extra := solution
	if j.notary != nil {
		extra = j.notary
	}
	return j.block(header, extra, j.Coinbase())
}

// Coinbase returns the job's coinbase as it appears in the block.
func (j *EquihashJob) Coinbase() []byte {
	return j.coinbase.Serialize(j.placeholder, nil)
}

// Params returns the UTXO parameter list followed by "N_K" and the
// personalization string when configured.
func (j *EquihashJob) Params(cleanJobs bool) []any {
	return j.params(cleanJobs)
}
