// Package main implements the blocksubmit service. It consumes block
// candidates found by the job manager and submits them to the coin daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bardlex/multipool/internal/config"
	"github.com/bardlex/multipool/internal/daemon"
	"github.com/bardlex/multipool/internal/messaging"
	"github.com/bardlex/multipool/internal/metrics"
	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/pkg/errors"
	"github.com/bardlex/multipool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting blocksubmit",
		"version", cfg.Version,
		"coin", cfg.CoinSymbol,
		"daemon_host", cfg.DaemonHost,
		"daemon_port", cfg.DaemonPort,
	)

	daemonClient, err := daemon.NewClient(daemon.Config{
		Host:     cfg.DaemonHost,
		Port:     cfg.DaemonPort,
		User:     cfg.DaemonUser,
		Password: cfg.DaemonPassword,
		CoinType: cfg.CoinType,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create daemon RPC client")
		os.Exit(1)
	}
	defer daemonClient.Close()

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	recorder, err := metrics.NewRecorder(cfg.ServiceName, nil)
	if err != nil {
		logger.WithError(err).Error("failed to create metrics recorder")
		os.Exit(1)
	}

	submitter := NewBlockSubmitter(logger, daemonClient, kafkaClient).WithObserver(recorder)

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           recorder.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := submitter.Start(ctx, kafkaClient, cfg.KafkaGroupID+"-blocksubmit"); err != nil {
			logger.WithError(err).Error("block submitter failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics server shutdown failed")
	}
	if err := submitter.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("blocksubmit stopped")
}

// Daemon submits serialized blocks or account-model work.
type Daemon interface {
	SubmitBlock(ctx context.Context, blockHex string) error
	SubmitWork(ctx context.Context, work template.BlockSubmission) error
}

// Consumer delivers messages from a topic to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, topic, groupID string, handler messaging.HandlerFunc) error
}

// Observer is told the outcome of every submission.
type Observer interface {
	BlockSubmitted(success bool)
}

// BlockSubmitter handles submission of block candidates to the daemon
type BlockSubmitter struct {
	logger    *log.Logger
	daemon    Daemon
	publisher messaging.Publisher
	observer  Observer

	blockQueue chan *messaging.BlockCandidateMessage
	done       chan struct{}
	closed     atomic.Bool

	submitted atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
}

// NewBlockSubmitter creates a new block submitter
func NewBlockSubmitter(logger *log.Logger, d Daemon, publisher messaging.Publisher) *BlockSubmitter {
	return &BlockSubmitter{
		logger:     logger.WithComponent("blocksubmit"),
		daemon:     d,
		publisher:  publisher,
		blockQueue: make(chan *messaging.BlockCandidateMessage, 100),
		done:       make(chan struct{}),
	}
}

// WithObserver sets the submission observer and returns bs.
func (bs *BlockSubmitter) WithObserver(o Observer) *BlockSubmitter {
	bs.observer = o
	return bs
}

// Start runs the submission worker and consumes candidates until ctx is
// done or Shutdown is called.
func (bs *BlockSubmitter) Start(ctx context.Context, consumer Consumer, groupID string) error {
	bs.logger.Info("block submitter starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go bs.submissionWorker(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Consume(ctx, messaging.TopicBlockCandidates, groupID, bs.HandleCandidate)
	}()

	select {
	case <-bs.done:
		return nil
	case err := <-errCh:
		if err == context.Canceled {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the block submitter
func (bs *BlockSubmitter) Shutdown(_ context.Context) error {
	if bs.closed.CompareAndSwap(false, true) {
		bs.logger.Info("shutting down block submitter")
		close(bs.done)
	}
	return nil
}

// HandleCandidate decodes a block candidate and queues it for submission.
func (bs *BlockSubmitter) HandleCandidate(_ context.Context, _ string, value []byte) error {
	var candidate messaging.BlockCandidateMessage
	if err := json.Unmarshal(value, &candidate); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "decode_candidate", "malformed block candidate")
	}
	if candidate.BlockHex == "" && candidate.Work == nil {
		return errors.New(errors.ErrorTypeValidation, "decode_candidate", "block candidate carries no block").
			WithContext("block_hash", candidate.BlockHash)
	}
	return bs.Enqueue(&candidate)
}

// Enqueue adds a candidate to the submission queue without blocking.
func (bs *BlockSubmitter) Enqueue(candidate *messaging.BlockCandidateMessage) error {
	select {
	case <-bs.done:
		return fmt.Errorf("submitter shutting down")
	default:
	}
	select {
	case bs.blockQueue <- candidate:
		bs.logger.Info("block candidate queued for submission",
			"block_hash", candidate.BlockHash,
			"block_height", candidate.BlockHeight,
			"worker", candidate.Worker,
		)
		return nil
	default:
		bs.logger.Error("block queue full, dropping block candidate",
			"block_hash", candidate.BlockHash,
			"block_height", candidate.BlockHeight,
		)
		return fmt.Errorf("block queue full")
	}
}

func (bs *BlockSubmitter) submissionWorker(ctx context.Context) {
	bs.logger.Info("submission worker started")
	defer bs.logger.Info("submission worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-bs.done:
			return
		case candidate := <-bs.blockQueue:
			bs.submit(ctx, candidate)
		}
	}
}

// submit sends one candidate to the daemon and publishes the outcome.
func (bs *BlockSubmitter) submit(ctx context.Context, candidate *messaging.BlockCandidateMessage) *messaging.BlockSubmissionResult {
	logger := bs.logger.WithFields(
		"block_hash", candidate.BlockHash,
		"block_height", candidate.BlockHeight,
		"worker", candidate.Worker,
	)
	logger.Info("submitting block to daemon")

	start := time.Now()
	var err error
	if candidate.Work != nil {
		err = bs.daemon.SubmitWork(ctx, *candidate.Work)
	} else {
		err = bs.daemon.SubmitBlock(ctx, candidate.BlockHex)
	}
	latency := time.Since(start)
	logger.LogDuration("block_submission", latency)
	bs.submitted.Add(1)

	result := &messaging.BlockSubmissionResult{
		BlockHash:      candidate.BlockHash,
		BlockHeight:    candidate.BlockHeight,
		Status:         "accepted",
		SubmissionTime: time.Now(),
		LatencyMs:      float64(latency.Nanoseconds()) / 1e6,
	}
	if err != nil {
		bs.rejected.Add(1)
		logger.WithError(err).Error("failed to submit block")
		result.Status = "rejected"
		result.ErrorMessage = err.Error()
	} else {
		bs.accepted.Add(1)
		logger.LogBlockFound(candidate.BlockHash, candidate.BlockHeight, candidate.Worker, candidate.ShareDiff)
	}
	if bs.observer != nil {
		bs.observer.BlockSubmitted(err == nil)
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.WithError(err).Error("failed to marshal block result")
		return result
	}
	if err := bs.publisher.PublishJSON(ctx, messaging.TopicBlockResults, candidate.BlockHash, data); err != nil {
		logger.WithError(err).Error("failed to publish block result")
	}
	return result
}

// GetStats returns submission statistics
func (bs *BlockSubmitter) GetStats() SubmissionStats {
	return SubmissionStats{
		QueueLength:    len(bs.blockQueue),
		TotalSubmitted: bs.submitted.Load(),
		TotalAccepted:  bs.accepted.Load(),
		TotalRejected:  bs.rejected.Load(),
	}
}

// SubmissionStats represents block submission statistics
type SubmissionStats struct {
	QueueLength    int
	TotalSubmitted int64
	TotalAccepted  int64
	TotalRejected  int64
}
