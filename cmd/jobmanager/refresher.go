package main

import (
	"context"
	"time"

	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/pkg/log"
)

// TemplateSource fetches the daemon's current work.
type TemplateSource interface {
	GetTemplate(ctx context.Context) (template.RPCData, error)
}

// Jobs is the part of the job manager driven by template refreshes.
type Jobs interface {
	ProcessTemplate(data template.RPCData) (bool, error)
	UpdateCurrentJob(data template.RPCData) error
	CurrentJob() template.Job
}

// Refresher polls the daemon for templates. A new block replaces the job
// set; otherwise the current height is re-issued once the rebroadcast
// timeout has passed since the last job.
type Refresher struct {
	jobs        Jobs
	source      TemplateSource
	interval    time.Duration
	rebroadcast time.Duration
	logger      *log.Logger
	now         func() time.Time

	lastJob time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(jobs Jobs, source TemplateSource, interval, rebroadcast time.Duration, logger *log.Logger) *Refresher {
	return &Refresher{
		jobs:        jobs,
		source:      source,
		interval:    interval,
		rebroadcast: rebroadcast,
		logger:      logger.WithComponent("refresher"),
		now:         time.Now,
	}
}

// Run refreshes on every tick and on every block hash received from
// notify until ctx is done.
func (r *Refresher) Run(ctx context.Context, notify <-chan string) error {
	r.refreshAndLog(ctx, "startup")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refreshAndLog(ctx, "poll")
		case hash := <-notify:
			r.logger.Debug("block notification", "block_hash", hash)
			r.refreshAndLog(ctx, "notify")
		}
	}
}

func (r *Refresher) refreshAndLog(ctx context.Context, reason string) {
	if _, err := r.Refresh(ctx); err != nil {
		r.logger.WithError(err).Warn("template refresh failed", "reason", reason)
	}
}

// Refresh fetches one template and applies it. It reports whether a new
// block was detected.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	data, err := r.source.GetTemplate(ctx)
	if err != nil {
		return false, err
	}

	isNew, err := r.jobs.ProcessTemplate(data)
	if err != nil {
		return false, err
	}
	now := r.now()
	if isNew {
		r.lastJob = now
		return true, nil
	}

	// Stale templates are dropped by ProcessTemplate and never re-issued.
	current := r.jobs.CurrentJob()
	if current == nil || current.Identity() != data.BlockIdentity() || now.Sub(r.lastJob) < r.rebroadcast {
		return false, nil
	}
	if err := r.jobs.UpdateCurrentJob(data); err != nil {
		return false, err
	}
	r.lastJob = now
	r.logger.Debug("rebroadcast job for current height")
	return false, nil
}
