// Package jobmanager turns daemon templates into jobs, keeps the set of jobs
// shares may still be submitted against, and validates shares.
//
// Template processing is serialized; share processing may run concurrently
// with it and with other shares. The job set is an immutable snapshot
// swapped atomically, so a share either sees the set from before a new block
// or the set after it, never a mix.
package jobmanager

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/internal/validation"
	"github.com/bardlex/multipool/pkg/errors"
	"github.com/bardlex/multipool/pkg/log"
)

// DefaultEventBuffer is the events channel capacity when none is configured.
const DefaultEventBuffer = 1024

// Config configures a Manager.
type Config struct {
	Builder *template.Builder
	Logger  *log.Logger

	// InstanceID seeds the extranonce counter; zero picks a random id.
	InstanceID uint32
	// EmitInvalidBlockHashes attaches the header hash of non-candidate shares
	// to their telemetry.
	EmitInvalidBlockHashes bool
	EventBuffer            int

	// Now is the clock used for the nTime window; defaults to time.Now.
	Now func() time.Time
}

type jobSet struct {
	current template.Job
	jobs    map[string]template.Job
}

// Manager is the job manager for one coin.
type Manager struct {
	desc    algo.Descriptor
	builder *template.Builder
	checker *validation.Checker
	logger  *log.Logger
	now     func() time.Time

	emitInvalidBlockHashes bool

	extraNonce *ExtraNonceCounter
	events     chan Event

	// templateMu serializes ProcessTemplate and UpdateCurrentJob and guards
	// the job counters.
	templateMu      sync.Mutex
	jobCounter      *JobCounter
	equihashCounter *JobCounter

	jobs atomic.Pointer[jobSet]
}

// New validates cfg and returns a Manager. Missing hash primitives and
// verifiers for the configured family are reported here rather than on the
// first share.
func New(cfg Config) (*Manager, error) {
	if cfg.Builder == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "new_job_manager", "template builder is required")
	}
	desc := cfg.Builder.Algorithm()
	if desc.NeedsHash() && !desc.HashBound() {
		return nil, errors.Wrap(algo.ErrPrimitiveUnbound, errors.ErrorTypeAlgorithm, "new_job_manager",
			"no hash primitive bound").
			WithContext("algorithm", desc.ID)
	}
	switch desc.Family {
	case algo.FamilyEquihash:
		if desc.VerifyEquihash == nil {
			return nil, errors.New(errors.ErrorTypeAlgorithm, "new_job_manager", "no equihash verifier bound").
				WithContext("algorithm", desc.ID)
		}
	case algo.FamilyAccountDAG:
		if desc.VerifyDAG == nil {
			return nil, errors.New(errors.ErrorTypeAlgorithm, "new_job_manager", "no DAG verifier bound").
				WithContext("algorithm", desc.ID)
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	extraNonce := NewExtraNonceCounter(cfg.InstanceID)
	m := &Manager{
		desc:                   desc,
		builder:                cfg.Builder,
		checker:                validation.NewChecker(len(cfg.Builder.Placeholder())-extraNonce.Size(), cfg.Now),
		logger:                 cfg.Logger.WithComponent("jobmanager").WithAlgorithm(desc.ID),
		now:                    cfg.Now,
		emitInvalidBlockHashes: cfg.EmitInvalidBlockHashes,
		extraNonce:             extraNonce,
		events:                 make(chan Event, cfg.EventBuffer),
		jobCounter:             NewJobCounter(),
		equihashCounter:        NewEquihashJobCounter(),
	}
	m.jobs.Store(&jobSet{jobs: map[string]template.Job{}})
	return m, nil
}

// Events returns the ordered event stream. It must be drained, usually by
// Dispatch; emitters block while it is full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Algorithm returns the descriptor the manager validates shares with.
func (m *Manager) Algorithm() algo.Descriptor {
	return m.desc
}

// NextExtraNonce1 assigns an extranonce1 to a new subscriber.
func (m *Manager) NextExtraNonce1() string {
	return m.extraNonce.Next()
}

// ExtraNonce2Size is the miner-chosen extranonce size in bytes.
func (m *Manager) ExtraNonce2Size() int {
	return m.checker.ExtraNonce2Size()
}

// CurrentJob returns the most recent job, or nil before the first template.
func (m *Manager) CurrentJob() template.Job {
	return m.jobs.Load().current
}

// Job looks up a job in the current job set.
func (m *Manager) Job(id string) (template.Job, bool) {
	job, ok := m.jobs.Load().jobs[id]
	return job, ok
}

// ValidJobCount returns the size of the current job set.
func (m *Manager) ValidJobCount() int {
	return len(m.jobs.Load().jobs)
}

// ProcessTemplate builds a job from data if it starts a new block and
// replaces the job set with it. It returns false without touching state when
// the template is for the current block, or for an older height than the
// current job (a lagging daemon).
func (m *Manager) ProcessTemplate(data template.RPCData) (bool, error) {
	m.templateMu.Lock()
	defer m.templateMu.Unlock()

	current := m.jobs.Load().current
	if current != nil {
		if current.Identity() == data.BlockIdentity() {
			return false, nil
		}
		if height, ok := data.BlockHeight(); ok && height < current.Height() {
			m.logger.Warn("ignoring stale template",
				"template_height", height,
				"current_height", current.Height(),
			)
			return false, nil
		}
	}

	job, err := m.build(data)
	if err != nil {
		return false, err
	}

	m.jobs.Store(&jobSet{
		current: job,
		jobs:    map[string]template.Job{job.ID(): job},
	})
	m.logger.LogNewBlock(job.ID(), job.Height(), data.BlockIdentity())
	m.emit(NewBlock{Job: job})
	return true, nil
}

// UpdateCurrentJob builds a fresh job from data and adds it to the current
// job set. Earlier jobs stay valid so in-flight shares are not lost.
func (m *Manager) UpdateCurrentJob(data template.RPCData) error {
	m.templateMu.Lock()
	defer m.templateMu.Unlock()

	job, err := m.build(data)
	if err != nil {
		return err
	}

	prev := m.jobs.Load()
	jobs := maps.Clone(prev.jobs)
	jobs[job.ID()] = job
	m.jobs.Store(&jobSet{current: job, jobs: jobs})

	sameHeight := prev.current != nil && prev.current.Height() == job.Height()
	m.logger.Debug("job updated",
		"job_id", job.ID(),
		"block_height", job.Height(),
		"valid_jobs", len(jobs),
	)
	m.emit(UpdatedBlock{Job: job, SameHeight: sameHeight})
	return nil
}

func (m *Manager) build(data template.RPCData) (template.Job, error) {
	switch m.desc.Family {
	case algo.FamilyUTXO:
		tpl, ok := data.(*template.BlockTemplate)
		if !ok {
			return nil, m.shapeMismatch(data)
		}
		return m.builder.UTXO(m.jobCounter.Next(), tpl)
	case algo.FamilyEquihash:
		tpl, ok := data.(*template.BlockTemplate)
		if !ok {
			return nil, m.shapeMismatch(data)
		}
		return m.builder.Equihash(m.equihashCounter.Next(), tpl)
	case algo.FamilyAccountDAG:
		work, ok := data.(*template.WorkTemplate)
		if !ok {
			return nil, m.shapeMismatch(data)
		}
		return m.builder.Account(m.jobCounter.Next(), work)
	default:
		return nil, errors.Newf(errors.ErrorTypeAlgorithm, "build_job", "unsupported family %s", m.desc.Family)
	}
}

func (m *Manager) shapeMismatch(data template.RPCData) error {
	return errors.Newf(errors.ErrorTypeTemplate, "build_job", "template type %T does not match family %s",
		data, m.desc.Family).
		WithContext("algorithm", m.desc.ID)
}

func (m *Manager) emit(e Event) {
	m.events <- e
}
