package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/pkg/errors"
)

// EventSink publishes job manager events: jobs as JSON, share telemetry as
// protobuf Structs, block candidates as JSON.
type EventSink struct {
	publisher       Publisher
	algorithm       string
	extraNonce2Size int
	now             func() time.Time
}

// NewEventSink returns a sink publishing through p.
func NewEventSink(p Publisher, algorithm string, extraNonce2Size int) *EventSink {
	return &EventSink{
		publisher:       p,
		algorithm:       algorithm,
		extraNonce2Size: extraNonce2Size,
		now:             time.Now,
	}
}

// HandleEvent implements jobmanager.Sink. A block candidate is published
// before the share telemetry and regardless of its outcome.
func (s *EventSink) HandleEvent(ctx context.Context, e jobmanager.Event) error {
	switch ev := e.(type) {
	case jobmanager.NewBlock:
		return s.publishJob(ctx, ev.Job, true)
	case jobmanager.UpdatedBlock:
		return s.publishJob(ctx, ev.Job, !ev.SameHeight)
	case jobmanager.ShareResult:
		var candErr error
		if ev.Block != nil {
			candErr = s.publishCandidate(ctx, ev)
		}
		return stderrors.Join(candErr, s.publishShare(ctx, ev.Share))
	}
	return nil
}

// NewJobMessage builds the broadcast form of a job.
func NewJobMessage(job template.Job, algorithm string, extraNonce2Size int, cleanJobs bool, at time.Time) JobMessage {
	return JobMessage{
		JobID:           job.ID(),
		Algorithm:       algorithm,
		Family:          job.Family().String(),
		Params:          job.Params(cleanJobs),
		CleanJobs:       cleanJobs,
		BlockHeight:     job.Height(),
		Difficulty:      job.Difficulty(),
		Target:          job.Target().Hex(),
		ExtraNonce2Size: extraNonce2Size,
		CreatedAt:       at,
	}
}

func (s *EventSink) publishJob(ctx context.Context, job template.Job, cleanJobs bool) error {
	data, err := json.Marshal(NewJobMessage(job, s.algorithm, s.extraNonce2Size, cleanJobs, s.now()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "marshal_job", "failed to encode job").
			WithContext("job_id", job.ID())
	}
	return s.publisher.PublishJSON(ctx, TopicJobs, job.ID(), data)
}

func (s *EventSink) publishShare(ctx context.Context, share jobmanager.Share) error {
	msg, err := ShareStruct(share)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "marshal_share", "failed to encode share").
			WithContext("job_id", share.JobID)
	}
	return s.publisher.PublishProto(ctx, TopicShareResults, share.Worker, msg)
}

func (s *EventSink) publishCandidate(ctx context.Context, ev jobmanager.ShareResult) error {
	data, err := json.Marshal(BlockCandidateMessage{
		JobID:       ev.Block.JobID,
		BlockHash:   ev.Block.Hash,
		BlockHeight: ev.Block.Height,
		BlockHex:    ev.Block.Hex,
		Work:        ev.Block.Work,
		Worker:      ev.Share.Worker,
		ShareDiff:   ev.Share.ShareDiff,
		FoundAt:     ev.Share.Time,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "marshal_candidate", "failed to encode block candidate").
			WithContext("block_hash", ev.Block.Hash)
	}
	return s.publisher.PublishJSON(ctx, TopicBlockCandidates, ev.Block.Hash, data)
}

// ShareStruct encodes share telemetry as a protobuf Struct.
func ShareStruct(share jobmanager.Share) (*structpb.Struct, error) {
	fields := map[string]any{
		"job":             share.JobID,
		"ip":              share.IP,
		"port":            share.Port,
		"worker":          share.Worker,
		"height":          share.Height,
		"blockReward":     share.BlockReward,
		"difficulty":      share.Difficulty,
		"shareDiff":       share.ShareDiff,
		"blockDiff":       share.BlockDiff,
		"blockDiffActual": share.BlockDiffActual,
		"time":            share.Time.UTC().Format(time.RFC3339Nano),
	}
	if share.BlockHash != "" {
		fields["blockHash"] = share.BlockHash
	}
	if share.BlockHashInvalid != "" {
		fields["blockHashInvalid"] = share.BlockHashInvalid
	}
	if !share.Accepted() {
		fields["errorCode"] = share.ErrorCode
		fields["error"] = share.Error
	}
	return structpb.NewStruct(fields)
}
