package jobmanager

import (
	"fmt"
	"math"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/template"
)

// Share rejection codes returned to miners.
const (
	ErrCodeOther         = 20
	ErrCodeJobNotFound   = 21
	ErrCodeDuplicate     = 22
	ErrCodeLowDifficulty = 23
)

// minDifficultyRatio is how far below the assigned difficulty a share may
// fall before it is rejected.
const minDifficultyRatio = 0.99

// ShareError is a share rejection.
type ShareError struct {
	Code    int
	Message string
}

func (e *ShareError) Error() string {
	return strconv.Itoa(e.Code) + ": " + e.Message
}

func rejectShare(code int, format string, args ...any) *ShareError {
	return &ShareError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Submission is a mining.submit as received from a worker. Fields not used
// by the pool's family are ignored.
type Submission struct {
	JobID string

	// PreviousDifficulty is the difficulty assigned before the last vardiff
	// retarget, or zero if there was none.
	PreviousDifficulty float64
	Difficulty         float64

	ExtraNonce1 string
	ExtraNonce2 string
	NTime       string
	Nonce       string
	Solution    string
	MixHash     string

	IP     string
	Port   int
	Worker string
}

// Result is the outcome returned to the submitting worker.
type Result struct {
	Accepted  bool
	Error     *ShareError
	BlockHash string
	ShareDiff float64
}

// outcome is what a family pipeline reports back to ProcessShare.
type outcome struct {
	job        template.Job
	err        *ShareError
	difficulty float64
	shareDiff  float64
	blockHash  string
	invalid    string
	candidate  *BlockCandidate
	reward     int64
}

// ProcessShare validates a submission against the current job set. Every
// call emits a ShareResult event, whether the share was accepted or not.
func (m *Manager) ProcessShare(sub Submission) Result {
	var out outcome
	switch m.desc.Family {
	case algo.FamilyUTXO:
		out = m.processUTXO(sub)
	case algo.FamilyEquihash:
		out = m.processEquihash(sub)
	case algo.FamilyAccountDAG:
		out = m.processAccount(sub)
	default:
		out = outcome{err: rejectShare(ErrCodeOther, "unsupported algorithm family")}
	}
	if out.err == nil && out.difficulty == 0 {
		out.difficulty = sub.Difficulty
	}

	share := Share{
		JobID:            sub.JobID,
		IP:               sub.IP,
		Port:             sub.Port,
		Worker:           sub.Worker,
		Height:           -1,
		BlockReward:      out.reward,
		Difficulty:       out.difficulty,
		ShareDiff:        math.Round(out.shareDiff*1e8) / 1e8,
		BlockHash:        out.blockHash,
		BlockHashInvalid: out.invalid,
		Time:             m.now(),
	}
	if out.err != nil {
		share.Difficulty = sub.Difficulty
		share.ErrorCode = out.err.Code
		share.Error = out.err.Message
	}
	if out.job != nil {
		share.Height = out.job.Height()
		share.BlockDiff = out.job.Difficulty() * m.desc.Multiplier
		share.BlockDiffActual = out.job.Difficulty()
	}

	m.logger.LogShareResult(share.JobID, share.Worker, share.Difficulty, share.ShareDiff, share.ErrorCode, share.Error)
	if out.candidate != nil {
		m.logger.LogBlockFound(out.candidate.Hash, out.candidate.Height, sub.Worker, share.ShareDiff)
	}
	m.emit(ShareResult{Share: share, Block: out.candidate})

	return Result{
		Accepted:  out.err == nil,
		Error:     out.err,
		BlockHash: out.blockHash,
		ShareDiff: share.ShareDiff,
	}
}

func (m *Manager) processUTXO(sub Submission) outcome {
	if err := m.checker.CheckExtraNonce2Size(sub.ExtraNonce2); err != nil {
		return outcome{err: fieldRejection(err)}
	}
	job, ok := lookup[*template.UTXOJob](m, sub.JobID)
	if !ok {
		return outcome{err: rejectShare(ErrCodeJobNotFound, "job not found")}
	}
	out := outcome{job: job, reward: job.Reward().Total}

	fields, err := m.checker.UTXO(sub.ExtraNonce1, sub.ExtraNonce2, sub.NTime, sub.Nonce, job.CurTime())
	if err != nil {
		out.err = fieldRejection(err)
		return out
	}
	if !job.RegisterSubmit(sub.ExtraNonce1, sub.ExtraNonce2, sub.NTime, sub.Nonce) {
		out.err = rejectShare(ErrCodeDuplicate, "duplicate share")
		return out
	}

	type proof struct {
		coinbase, header, digest []byte
	}
	p, err := safeCall(func() (proof, error) {
		coinbase := job.SerializeCoinbase(fields.ExtraNonce1, fields.ExtraNonce2)
		root := job.MerkleRootWith(job.HashCoinbase(coinbase))
		header, err := job.SerializeHeader(root, fields.NTime, fields.Nonce)
		if err != nil {
			return proof{}, err
		}
		digest, err := m.desc.Hash(header, fields.NTimeInt)
		return proof{coinbase: coinbase, header: header, digest: digest}, err
	})
	if err != nil {
		m.logger.WithError(err).Warn("share hash failed", "job_id", job.ID())
		out.err = rejectShare(ErrCodeLowDifficulty, "invalid share")
		return out
	}

	value := template.DigestToInt(p.digest)
	out.shareDiff = template.ShareDifficulty(value, m.desc.Multiplier)

	if value.Cmp(job.Target()) <= 0 {
		hash, err := safeCall(func() ([]byte, error) {
			return m.desc.BlockHash(p.header, fields.NTimeInt)
		})
		if err != nil {
			m.logger.WithError(err).Warn("block hash failed", "job_id", job.ID())
			out.err = rejectShare(ErrCodeLowDifficulty, "invalid share")
			return out
		}
		out.blockHash = fasthex.EncodeToString(hash)
		out.candidate = &BlockCandidate{
			JobID:  job.ID(),
			Height: job.Height(),
			Hash:   out.blockHash,
			Hex:    fasthex.EncodeToString(job.SerializeBlock(p.header, p.coinbase)),
		}
		return out
	}

	if m.emitInvalidBlockHashes {
		out.invalid = invalidBlockHash(p.header)
	}
	out.difficulty, out.err = m.checkDifficulty(sub, out.shareDiff)
	return out
}

func (m *Manager) processEquihash(sub Submission) outcome {
	job, ok := lookup[*template.EquihashJob](m, sub.JobID)
	if !ok {
		return outcome{err: rejectShare(ErrCodeJobNotFound, "job not found")}
	}
	out := outcome{job: job, reward: job.Reward().Total}

	fields, err := m.checker.Equihash(sub.ExtraNonce2, sub.NTime, sub.Nonce, sub.Solution, job.Solution(), job.CurTime())
	if err != nil {
		out.err = fieldRejection(err)
		return out
	}
	if !job.RegisterSubmit(sub.Nonce, sub.Solution) {
		out.err = rejectShare(ErrCodeDuplicate, "duplicate share")
		return out
	}

	header, err := job.SerializeHeader(fields.NTime, fields.Nonce)
	if err != nil {
		out.err = rejectShare(ErrCodeOther, "invalid solution")
		return out
	}
	headerSolution := append(append(make([]byte, 0, len(header)+len(fields.Solution)), header...), fields.Solution...)

	slice := job.Solution().Slice / 2
	valid, err := safeCall(func() (bool, error) {
		return m.desc.VerifyEquihash(header, fields.Solution[slice:], m.desc.Params)
	})
	if err != nil || !valid {
		if err != nil {
			m.logger.WithError(err).Warn("equihash verification failed", "job_id", job.ID())
		}
		out.err = rejectShare(ErrCodeOther, "invalid solution")
		return out
	}

	headerHash, err := safeCall(func() ([]byte, error) {
		return job.HeaderHash(headerSolution)
	})
	if err != nil {
		m.logger.WithError(err).Warn("header hash failed", "job_id", job.ID())
		out.err = rejectShare(ErrCodeOther, "invalid solution")
		return out
	}

	value := template.DigestToInt(headerHash)
	out.shareDiff = template.ShareDifficulty(value, m.desc.Multiplier)

	if value.Cmp(job.Target()) <= 0 {
		out.blockHash = fasthex.EncodeToString(algo.Reverse(headerHash))
		out.candidate = &BlockCandidate{
			JobID:  job.ID(),
			Height: job.Height(),
			Hash:   out.blockHash,
			Hex:    fasthex.EncodeToString(job.SerializeBlock(header, fields.Solution)),
		}
		return out
	}

	if m.emitInvalidBlockHashes {
		out.invalid = invalidBlockHash(headerSolution)
	}
	out.difficulty, out.err = m.checkDifficulty(sub, out.shareDiff)
	return out
}

func (m *Manager) processAccount(sub Submission) outcome {
	job, ok := lookup[*template.AccountJob](m, sub.JobID)
	if !ok {
		return outcome{err: rejectShare(ErrCodeJobNotFound, "job not found")}
	}
	out := outcome{job: job}

	fields, err := m.checker.Account(sub.Nonce, sub.MixHash)
	if err != nil {
		out.err = fieldRejection(err)
		return out
	}
	if !job.RegisterSubmit(sub.Nonce, sub.MixHash) {
		out.err = rejectShare(ErrCodeDuplicate, "duplicate share")
		return out
	}

	var epoch uint64
	if h := job.Height(); h >= 0 {
		epoch = m.desc.Epoch(uint64(h))
	}
	result, err := safeCall(func() (*uint256.Int, error) {
		return m.desc.VerifyDAG(job.HeaderHash(), fields.Nonce, fields.MixHash, epoch)
	})
	if err != nil || result == nil {
		if err != nil {
			m.logger.WithError(err).Warn("DAG verification failed", "job_id", job.ID())
		}
		out.err = rejectShare(ErrCodeLowDifficulty, "invalid share")
		return out
	}

	out.shareDiff = template.AccountDifficulty(result)
	if result.Cmp(job.Target()) <= 0 {
		work := job.SerializeBlock(sub.Nonce, sub.MixHash)
		out.blockHash = job.Work().HeaderHash
		out.candidate = &BlockCandidate{
			JobID:  job.ID(),
			Height: job.Height(),
			Hash:   out.blockHash,
			Work:   &work,
		}
	}
	return out
}

// checkDifficulty applies the assigned-difficulty test to a non-candidate
// share and returns the difficulty it is credited at.
func (m *Manager) checkDifficulty(sub Submission, shareDiff float64) (float64, *ShareError) {
	if sub.Difficulty <= 0 || shareDiff/sub.Difficulty >= minDifficultyRatio {
		return sub.Difficulty, nil
	}
	if sub.PreviousDifficulty > 0 && shareDiff >= sub.PreviousDifficulty {
		return sub.PreviousDifficulty, nil
	}
	return sub.Difficulty, rejectShare(ErrCodeLowDifficulty, "low difficulty share of %v", shareDiff)
}

func lookup[J template.Job](m *Manager, id string) (J, bool) {
	var zero J
	job, ok := m.Job(id)
	if !ok {
		return zero, false
	}
	j, ok := job.(J)
	return j, ok
}

func fieldRejection(err error) *ShareError {
	return &ShareError{Code: ErrCodeOther, Message: err.Error()}
}

func invalidBlockHash(data []byte) string {
	return fasthex.EncodeToString(algo.Reverse(chainhash.DoubleHashB(data)))
}

// safeCall runs fn, converting a panic into an error.
func safeCall[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("primitive panicked: %v", r)
		}
	}()
	return fn()
}
