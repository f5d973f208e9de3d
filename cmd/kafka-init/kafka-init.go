package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the revocation topic (and any extra KAFKA_TOPICS)
// before the services start.
func main() {
	logger, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "kafka-init"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	brokers := strings.Split(env("KAFKA_BROKERS", "kafka:9092"), ",")
	topics := strings.Split(env("KAFKA_TOPICS", kafka.DefaultRevocationsTopic), ",")
	partitions := envInt("KAFKA_PARTITIONS", 3)
	rf := envInt("KAFKA_RF", 1)
	retention, err := time.ParseDuration(env("KAFKA_RETENTION", "1440h"))
	if err != nil {
		logger.Fatal("bad KAFKA_RETENTION", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	pol := retry.StartupPolicy("kafka", logger)
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		spec := kafka.TopicSpec{Name: t, NumPartitions: partitions, ReplicationFactor: rf, Retention: retention, MaxWait: 30 * time.Second}
		if err := retry.Do(ctx, func() error { return kafka.EnsureTopic(ctx, brokers, spec, logger) }, pol); err != nil {
			logger.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
	}
	logger.Info("kafka-init ok", zap.Strings("topics", topics))
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil && n > 0 {
		return n
	}
	return def
}
