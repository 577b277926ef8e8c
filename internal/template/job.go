// Package template turns daemon block templates into immutable mining jobs
// and serializes the headers and blocks that shares are checked against.
package template

import (
	"github.com/holiman/uint256"

	"github.com/bardlex/multipool/internal/algo"
)

// Job is the capability set shared by every job family. Family specific
// operations (submission registration, header and block serialization) live
// on the concrete types UTXOJob, EquihashJob and AccountJob.
type Job interface {
	ID() string
	Family() algo.Family
	// Target and Difficulty are fixed at construction.
	Target() *uint256.Int
	Difficulty() float64
	// Height is the block height or block number this job mines.
	Height() int64
	// Identity distinguishes one block from the next: the previous block
	// hash for UTXO chains, the header hash for account chains.
	Identity() string
	// Params returns the ordered notify parameters sent to workers.
	Params(cleanJobs bool) []any
	// SubmissionCount reports how many distinct shares were registered.
	SubmissionCount() int
}

var (
	_ Job = (*UTXOJob)(nil)
	_ Job = (*EquihashJob)(nil)
	_ Job = (*AccountJob)(nil)
)
