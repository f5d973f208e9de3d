package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/NordCoder/Sentinel/internal/authority"
	config "github.com/NordCoder/Sentinel/internal/config/gateway"
	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/introspect"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"github.com/NordCoder/Sentinel/internal/services/gateway"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.Log)
}

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	o, err := obs.SetupOTel(ctx, &cfg.OTEL)
	if err != nil {
		return nil, err
	}
	return o.Shutdown, nil
}

func parseUpstreams(cfg *config.Config) (authURL, userURL *url.URL, err error) {
	if authURL, err = url.Parse(cfg.Upstreams.Auth); err != nil {
		return nil, nil, fmt.Errorf("upstreams.auth: %w", err)
	}
	if userURL, err = url.Parse(cfg.Upstreams.User); err != nil {
		return nil, nil, fmt.Errorf("upstreams.user: %w", err)
	}
	return authURL, userURL, nil
}

// verification holds what the router needs to check tokens and what has
// to be closed on shutdown.
type verification struct {
	verifier httpauth.Verifier
	denylist *gateway.Denylist
	conn     *grpc.ClientConn
}

func (v *verification) Close() {
	if v.conn != nil {
		_ = v.conn.Close()
	}
}

func initVerification(cfg *config.Config, logger *zap.Logger) (*verification, error) {
	out := &verification{}
	if cfg.Verify.Mode == config.ModeRemote || cfg.Verify.RemoteCheck {
		conn, err := introspect.Dial(cfg.Verify.IntrospectAddr)
		if err != nil {
			return nil, fmt.Errorf("dial introspection: %w", err)
		}
		out.conn = conn
	}

	if cfg.Verify.Mode == config.ModeRemote {
		out.verifier = introspect.NewClient(out.conn, cfg.Verify.Timeout)
		return out, nil
	}

	out.denylist = gateway.NewDenylist(logger.Named("denylist"))
	checker := gateway.LayeredChecker{Local: out.denylist}
	if out.conn != nil {
		checker.Remote = introspect.NewClient(out.conn, cfg.Verify.Timeout)
	}
	v, err := authority.NewVerifier(cfg.Verify.AsAuthorityConfig(), checker)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.verifier = v
	return out, nil
}

// runDenylistFeed replays the revocation stream into the denylist, starting
// from the beginning of the topic on every process start.
func runDenylistFeed(ctx context.Context, cfg *config.Config, denylist *gateway.Denylist, logger *zap.Logger) error {
	cc := gateway.FeedConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupPrefix, logger.Named("kafka"))
	cons := kafka.BootstrapConsumer(ctx, cc, kafka.TopicSpec{Name: cfg.Kafka.Topic}, logger)
	defer func() { _ = cons.Close() }()
	return cons.Consume(ctx, kafka.RevocationHandler(denylist.Apply))
}
