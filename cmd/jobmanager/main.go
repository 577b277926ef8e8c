// Package main implements the jobmanager service. It turns daemon block
// templates into mining jobs, validates shares consumed from Kafka and
// fans the resulting events out to Kafka, Redis, InfluxDB and Prometheus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/config"
	"github.com/bardlex/multipool/internal/daemon"
	"github.com/bardlex/multipool/internal/database"
	"github.com/bardlex/multipool/internal/database/influx"
	"github.com/bardlex/multipool/internal/database/redis"
	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/messaging"
	"github.com/bardlex/multipool/internal/metrics"
	"github.com/bardlex/multipool/internal/template"
	"github.com/bardlex/multipool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting jobmanager",
		"version", cfg.Version,
		"coin", cfg.CoinSymbol,
		"algorithm", cfg.CoinAlgorithm,
		"daemon_host", cfg.DaemonHost,
		"daemon_port", cfg.DaemonPort,
	)

	manager, err := newManager(cfg, logger, algo.NewRegistry(registryOptions(cfg)...))
	if err != nil {
		logger.WithError(err).Error("failed to create job manager")
		os.Exit(1)
	}

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

	db, err := database.NewManager(databaseConfig(cfg))
	if err != nil {
		logger.WithError(err).Error("failed to connect to stores")
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("failed to close stores")
		}
	}()

	recorder, err := metrics.NewRecorder(cfg.ServiceName, manager.ValidJobCount)
	if err != nil {
		logger.WithError(err).Error("failed to create metrics recorder")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db.StartPeriodicTasks(ctx)

	algorithm := manager.Algorithm().ID
	sinks := append([]jobmanager.Sink{
		messaging.NewEventSink(kafkaClient, algorithm, manager.ExtraNonce2Size()),
		recorder,
	}, db.Sinks(algorithm, manager.ExtraNonce2Size())...)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error(name + " stopped")
				cancel()
			}
		}()
	}

	run("event dispatch", func(ctx context.Context) error {
		return manager.Dispatch(ctx, sinks...)
	})

	refresher := NewRefresher(manager, daemonClient, cfg.BlockRefreshInterval, cfg.JobRebroadcastTimeout, logger)
	notify := make(chan string, 1)
	if cfg.DaemonZMQAddr != "" {
		notifier, err := daemon.NewNotifier(cfg.DaemonZMQAddr, logger)
		if err == nil {
			err = notifier.Connect()
		}
		if err != nil {
			logger.WithError(err).Error("failed to set up ZMQ notifications")
			os.Exit(1)
		}
		defer func() { _ = notifier.Close() }()
		run("zmq listener", func(ctx context.Context) error {
			return notifier.Listen(ctx, func(hash string) error {
				select {
				case notify <- hash:
				default:
				}
				return nil
			})
		})
	}
	run("template refresher", func(ctx context.Context) error {
		return refresher.Run(ctx, notify)
	})

	run("share consumer", func(ctx context.Context) error {
		return kafkaClient.Consume(ctx, messaging.TopicShares, cfg.KafkaGroupID+"-shares", messaging.ShareHandler(manager, kafkaClient))
	})

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newHTTPHandler(recorder, db),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics server shutdown failed")
	}
	wg.Wait()

	logger.Info("jobmanager stopped")
}

func registryOptions(cfg *config.Config) []algo.Option {
	opts := []algo.Option{algo.WithNormalHashing(cfg.NormalHashing)}
	if d, err := algo.NewRegistry().Lookup(cfg.CoinAlgorithm); err == nil && d.Family == algo.FamilyEquihash {
		opts = append(opts, algo.WithEquihashParams(cfg.CoinAlgorithm, cfg.EquihashParams()))
	}
	return opts
}

// newManager builds the template builder and job manager for the
// configured coin.
func newManager(cfg *config.Config, logger *log.Logger, registry *algo.Registry) (*jobmanager.Manager, error) {
	desc, err := registry.Lookup(cfg.CoinAlgorithm)
	if err != nil {
		return nil, err
	}

	builderCfg := template.BuilderConfig{
		Algorithm:       desc,
		SubsidyMultiple: cfg.SubsidyMultiple,
		FundingStreams:  cfg.FundingStreams,
	}
	if desc.Family != algo.FamilyAccountDAG {
		coinbase, err := newCoinbaseBuilder(cfg, desc)
		if err != nil {
			return nil, err
		}
		builderCfg.Coinbase = coinbase
	}

	builder, err := template.NewBuilder(builderCfg)
	if err != nil {
		return nil, err
	}

	return jobmanager.New(jobmanager.Config{
		Builder:                builder,
		Logger:                 logger,
		InstanceID:             cfg.InstanceID,
		EmitInvalidBlockHashes: cfg.EmitInvalidBlockHashes,
		EventBuffer:            cfg.EventBuffer,
	})
}

func newCoinbaseBuilder(cfg *config.Config, desc algo.Descriptor) (*template.TxCoinbaseBuilder, error) {
	recipients := make([]template.Recipient, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		recipients = append(recipients, template.Recipient{Address: r.Address, Percent: r.Percent})
	}

	cbCfg := template.CoinbaseConfig{
		PoolAddress: cfg.PoolAddress,
		Recipients:  recipients,
		ChainParams: chainParams(cfg.ChainNetwork),
		Tag:         cfg.CoinbaseTag,
	}
	if desc.Family == algo.FamilyEquihash {
		cbCfg.AddressScript = base58AddressScript
	}
	return template.NewTxCoinbaseBuilder(cbCfg)
}

func chainParams(network string) *chaincfg.Params {
	switch strings.ToLower(network) {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	case "simnet":
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// Two-byte base58 prefixes used by Zcash-style transparent addresses.
var (
	p2pkhPrefixes = map[[2]byte]bool{{0x1c, 0xb8}: true, {0x1d, 0x25}: true, {0x20, 0x89}: true}
	p2shPrefixes  = map[[2]byte]bool{{0x1c, 0xbd}: true, {0x1c, 0xba}: true, {0x20, 0x96}: true}
)

// base58AddressScript builds the output script for a transparent address
// with a two-byte version prefix, which btcutil cannot decode.
func base58AddressScript(address string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if len(payload) != 21 {
		return nil, fmt.Errorf("address payload is %d bytes, want 21", len(payload))
	}
	prefix := [2]byte{version, payload[0]}
	hash := payload[1:]

	switch {
	case p2pkhPrefixes[prefix]:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(hash).
			AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
			Script()
	case p2shPrefixes[prefix]:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).AddData(hash).AddOp(txscript.OP_EQUAL).
			Script()
	}
	return nil, fmt.Errorf("unknown address prefix %x", prefix)
}

func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{}
	if cfg.RedisAddr != "" {
		dbCfg.Redis = &redis.Config{
			Addr:        cfg.RedisAddr,
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			Coin:        cfg.CoinSymbol,
			JobTTL:      redis.DefaultJobTTL,
		}
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Coin:   cfg.CoinSymbol,
		}
	}
	return dbCfg
}

type healthChecker interface {
	Health(ctx context.Context) error
}

func newHTTPHandler(recorder *metrics.Recorder, stores healthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := stores.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
