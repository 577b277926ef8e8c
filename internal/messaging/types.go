package messaging

import (
	"encoding/json"
	"time"

	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/template"
)

// JobMessage is a job as broadcast to stratum front-ends. Params is the
// ordered notify parameter list.
type JobMessage struct {
	JobID           string    `json:"job_id"`
	Algorithm       string    `json:"algorithm"`
	Family          string    `json:"family"`
	Params          []any     `json:"params"`
	CleanJobs       bool      `json:"clean_jobs"`
	BlockHeight     int64     `json:"block_height"`
	Difficulty      float64   `json:"difficulty"`
	Target          string    `json:"target"`
	ExtraNonce2Size int       `json:"extra_nonce2_size"`
	CreatedAt       time.Time `json:"created_at"`
}

// ShareMessage is a mining.submit forwarded by a stratum front-end
type ShareMessage struct {
	JobID              string    `json:"job_id"`
	Worker             string    `json:"worker"`
	IP                 string    `json:"ip"`
	Port               int       `json:"port"`
	Difficulty         float64   `json:"difficulty"`
	PreviousDifficulty float64   `json:"previous_difficulty,omitempty"`
	ExtraNonce1        string    `json:"extra_nonce1,omitempty"`
	ExtraNonce2        string    `json:"extra_nonce2,omitempty"`
	NTime              string    `json:"ntime,omitempty"`
	Nonce              string    `json:"nonce"`
	Solution           string    `json:"solution,omitempty"`
	MixHash            string    `json:"mix_hash,omitempty"`
	SubmittedAt        time.Time `json:"submitted_at"`

	// Session and RequestID route the stratum reply back to the miner.
	Session   string          `json:"session,omitempty"`
	RequestID json.RawMessage `json:"request_id,omitempty"`

	// Request is the miner's raw mining.submit line. When set, its params
	// and id replace the decoded proof fields and RequestID.
	Request json.RawMessage `json:"request,omitempty"`
}

// Submission converts the message for the job manager.
func (m ShareMessage) Submission() jobmanager.Submission {
	return jobmanager.Submission{
		JobID:              m.JobID,
		PreviousDifficulty: m.PreviousDifficulty,
		Difficulty:         m.Difficulty,
		ExtraNonce1:        m.ExtraNonce1,
		ExtraNonce2:        m.ExtraNonce2,
		NTime:              m.NTime,
		Nonce:              m.Nonce,
		Solution:           m.Solution,
		MixHash:            m.MixHash,
		IP:                 m.IP,
		Port:               m.Port,
		Worker:             m.Worker,
	}
}

// BlockCandidateMessage carries a found block to blocksubmit. Exactly one
// of BlockHex and Work is set.
type BlockCandidateMessage struct {
	JobID       string                    `json:"job_id"`
	BlockHash   string                    `json:"block_hash"`
	BlockHeight int64                     `json:"block_height"`
	BlockHex    string                    `json:"block_hex,omitempty"`
	Work        *template.BlockSubmission `json:"work,omitempty"`
	Worker      string                    `json:"worker"`
	ShareDiff   float64                   `json:"share_diff"`
	FoundAt     time.Time                 `json:"found_at"`
}

// BlockSubmissionResult is the outcome of submitting a candidate
type BlockSubmissionResult struct {
	BlockHash      string    `json:"block_hash"`
	BlockHeight    int64     `json:"block_height"`
	Status         string    `json:"status"` // "accepted", "rejected"
	ErrorMessage   string    `json:"error_message,omitempty"`
	SubmissionTime time.Time `json:"submission_time"`
	LatencyMs      float64   `json:"latency_ms"`
}
