package gateway_config

import (
	"os"
	"strings"

	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig()
	}

	v.SetDefault("app.name", "gateway")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9100")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("upstreams.auth", "http://localhost:8081")
	v.SetDefault("upstreams.user", "http://localhost:8082")

	v.SetDefault("verify.mode", "local")
	v.SetDefault("verify.secret", "")
	v.SetDefault("verify.issuer", "sentinel")
	v.SetDefault("verify.access_ttl", "15m")
	v.SetDefault("verify.refresh_ttl", "720h")
	v.SetDefault("verify.introspect_addr", "localhost:9091")
	v.SetDefault("verify.timeout", "500ms")
	v.SetDefault("verify.remote_check", true)
	v.SetDefault("verify.sweep_interval", "5m")

	hostname, _ := os.Hostname()
	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka.topic", kafka.DefaultRevocationsTopic)
	v.SetDefault("kafka.group_prefix", "gateway-"+hostname)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.service_name", "gateway")
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("otel.otlp_endpoint", "localhost:4317")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Log.App, cfg.Log.Env, cfg.Log.Ver = cfg.App.Name, cfg.App.Env, cfg.App.Version
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
