package main

import (
	"context"
	"sync"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/auth-service"
	domainoutbox "github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/NordCoder/Sentinel/internal/outbox"
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"go.uber.org/zap"
)

// buildOutbox wires the revocation outbox to Kafka. The returned closer
// flushes the producer.
func buildOutbox(ctx context.Context, cfg *config.Config, repo domainoutbox.Repository, logger *zap.Logger) (*outbox.Runner, func()) {
	spec := kafka.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		// gateways rebuild their denylist by replaying the topic, so it must
		// hold every revocation that can still matter
		Retention: 2 * cfg.Token.RefreshTTL,
	}
	if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, spec, logger); err != nil {
		logger.Warn("revocation topic not ensured; publishing anyway", zap.Error(err))
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(logger)
	dispatch := outbox.MakeGlobalOutboxHandler(kafka.NewRevocationEventsKafka(producer), retry.PublishPolicy(logger))
	runner := outbox.NewOutboxRunner(logger.Named("outbox"), repo, dispatch, cfg.Outbox)
	return runner, func() { _ = producer.Close() }
}

// startWorkers runs the revocation sweeper and, with Kafka on, the outbox
// runner plus its own sweeper for delivered rows. The channel closes once
// all of them return.
func startWorkers(ctx context.Context, cfg *config.Config, logger *zap.Logger, tokens *authority.Authority, runner *outbox.Runner) <-chan struct{} {
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	sweeper := authority.NewSweeper(logger.Named("sweeper"), tokens, cfg.Revocation.SweepInterval)
	spawn(func() { _ = sweeper.Run(ctx) })
	if runner != nil {
		spawn(func() { runner.Run(ctx) })
		purger := authority.NewSweeper(logger.Named("outbox-purge"), runner, cfg.Revocation.SweepInterval)
		spawn(func() { _ = purger.Run(ctx) })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		logger.Info("workers stopped")
		close(done)
	}()
	return done
}
