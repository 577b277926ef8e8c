package jobmanager

import (
	"time"

	"github.com/bardlex/multipool/internal/template"
)

// Event is emitted by the Manager in order on its events channel. It is one
// of NewBlock, UpdatedBlock or ShareResult.
type Event interface {
	event()
}

// NewBlock reports a job that replaced the whole job set.
type NewBlock struct {
	Job template.Job
}

// UpdatedBlock reports a job added to the current job set.
type UpdatedBlock struct {
	Job        template.Job
	SameHeight bool
}

// ShareResult carries the telemetry of every processed share and, for block
// candidates, the block to submit.
type ShareResult struct {
	Share Share
	Block *BlockCandidate
}

func (NewBlock) event() {}
func (UpdatedBlock) event() {}
func (ShareResult) event() {}

// Share is the telemetry record of one processed share.
type Share struct {
	JobID  string
	IP     string
	Port   int
	Worker string

	Height      int64
	BlockReward int64
	// Difficulty is the difficulty the share was credited at; it is the
	// previous difficulty when the vardiff grace window applied.
	Difficulty      float64
	ShareDiff       float64
	BlockDiff       float64
	BlockDiffActual float64

	BlockHash        string
	BlockHashInvalid string

	ErrorCode int
	Error     string
	Time      time.Time
}

// Accepted reports whether the share was credited.
func (s Share) Accepted() bool {
	return s.ErrorCode == 0
}

// BlockCandidate is a share that met the network target.
type BlockCandidate struct {
	JobID  string
	Height int64
	Hash   string
	// Hex is the serialized block for UTXO and Equihash chains.
	Hex string
	// Work holds the eth_submitWork parameters for account chains.
	Work *template.BlockSubmission
}
