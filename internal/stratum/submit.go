package stratum

import (
	"fmt"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/jobmanager"
)

// Submit is a decoded mining.submit request.
type Submit struct {
	ID          any
	Worker      string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
	Solution    string
	MixHash     string
}

// ParseSubmit decodes a raw mining.submit line. The positional layout
// depends on the family:
//
//	UTXO      [worker, jobId, extraNonce2, nTime, nonce]
//	Equihash  [worker, jobId, nTime, extraNonce2, solution]
//	DAG       [worker, jobId, nonce, headerHash, mixHash]
//
// Equihash miners only send extraNonce2, so the header nonce is
// extraNonce1 followed by it.
func ParseSubmit(data []byte, family algo.Family, extraNonce1 string) (*Submit, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Method != MethodSubmit {
		return nil, fmt.Errorf("unexpected method %q", msg.Method)
	}
	if msg.IsNotification() {
		return nil, fmt.Errorf("%s without request id", MethodSubmit)
	}
	if len(msg.Params) < 5 {
		return nil, fmt.Errorf("%s has %d params, want 5", MethodSubmit, len(msg.Params))
	}
	params := make([]string, 5)
	for i := range params {
		s, ok := msg.Params[i].(string)
		if !ok {
			return nil, fmt.Errorf("%s param %d is %T, want string", MethodSubmit, i, msg.Params[i])
		}
		params[i] = s
	}

	s := &Submit{ID: msg.ID, Worker: params[0], JobID: params[1]}
	switch family {
	case algo.FamilyUTXO:
		s.ExtraNonce2, s.NTime, s.Nonce = params[2], params[3], params[4]
	case algo.FamilyEquihash:
		s.NTime, s.ExtraNonce2, s.Solution = params[2], params[3], params[4]
		s.Nonce = extraNonce1 + s.ExtraNonce2
	case algo.FamilyAccountDAG:
		s.Nonce, s.MixHash = params[2], params[4]
	default:
		return nil, fmt.Errorf("unsupported algorithm family %v", family)
	}
	return s, nil
}

// Apply overwrites the proof fields of sub with the request's.
func (s *Submit) Apply(sub *jobmanager.Submission) {
	sub.Worker = s.Worker
	sub.JobID = s.JobID
	sub.ExtraNonce2 = s.ExtraNonce2
	sub.NTime = s.NTime
	sub.Nonce = s.Nonce
	sub.Solution = s.Solution
	sub.MixHash = s.MixHash
}
