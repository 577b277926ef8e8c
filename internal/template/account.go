package template

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/pkg/errors"
)

// AccountJob is a job for a DAG-mined account chain. It carries no merkle
// tree; the daemon's header hash is the whole unit of work.
type AccountJob struct {
	id         string
	work       *WorkTemplate
	headerHash common.Hash
	seedHash   common.Hash
	target     *uint256.Int
	difficulty float64
	shares     *shareSet
}

// BlockSubmission is what eth_submitWork expects for a found block.
type BlockSubmission struct {
	Nonce      string `json:"nonce"`
	HeaderHash string `json:"headerHash"`
	MixHash    string `json:"mixHash"`
}

func newAccountJob(id string, work *WorkTemplate) (*AccountJob, error) {
	fail := func(msg string, err error) (*AccountJob, error) {
		se := errors.Wrap(err, errors.ErrorTypeTemplate, "build_job", msg)
		if se == nil {
			se = errors.New(errors.ErrorTypeTemplate, "build_job", msg)
		}
		return nil, se.WithContext("job_id", id)
	}

	header, err := hexutil.Decode(work.HeaderHash)
	if err != nil || len(header) != common.HashLength {
		return fail("invalid header hash", err)
	}
	seed, err := hexutil.Decode(work.SeedHash)
	if err != nil || len(seed) != common.HashLength {
		return fail("invalid seed hash", err)
	}
	target, err := ParseTarget(work.Target)
	if err != nil {
		return nil, err
	}

	return &AccountJob{
		id:         id,
		work:       work,
		headerHash: common.BytesToHash(header),
		seedHash:   common.BytesToHash(seed),
		target:     target,
		difficulty: AccountDifficulty(target),
		shares:     newShareSet(),
	}, nil
}

func (j *AccountJob) ID() string { return j.id }
func (j *AccountJob) Family() algo.Family { return algo.FamilyAccountDAG }
func (j *AccountJob) Target() *uint256.Int { return new(uint256.Int).Set(j.target) }
func (j *AccountJob) Difficulty() float64 { return j.difficulty }
func (j *AccountJob) Identity() string { return j.work.HeaderHash }
func (j *AccountJob) SubmissionCount() int { return j.shares.count() }
func (j *AccountJob) HeaderHash() common.Hash { return j.headerHash }
func (j *AccountJob) SeedHash() common.Hash { return j.seedHash }
func (j *AccountJob) Work() *WorkTemplate { return j.work }

// Height returns the block number, or -1 when the daemon did not report one.
func (j *AccountJob) Height() int64 {
	if !j.work.HasNumber {
		return -1
	}
	return int64(j.work.BlockNumber)
}

// RegisterSubmit records the submission and reports whether it is new.
func (j *AccountJob) RegisterSubmit(nonce, mixHash string) bool {
	return j.shares.add(submissionKey(nonce, mixHash))
}

// SerializeBlock returns the eth_submitWork parameters for a found block.
func (j *AccountJob) SerializeBlock(nonce, mixHash string) BlockSubmission {
	return BlockSubmission{
		Nonce:      nonce,
		HeaderHash: j.work.HeaderHash,
		MixHash:    mixHash,
	}
}

// Params returns [jobId, headerHash, seedHash, target].
func (j *AccountJob) Params(bool) []any {
	return []any{j.id, j.work.HeaderHash, j.work.SeedHash, j.work.Target}
}
