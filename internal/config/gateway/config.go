package gateway_config

import (
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	"github.com/NordCoder/Sentinel/internal/obs"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Upstreams struct {
	Auth string `mapstructure:"auth"`
	User string `mapstructure:"user"`
}

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Verify selects where tokens are checked. In local mode the gateway holds
// the signing secret and asks for revocation status; in remote mode every
// check is an introspection call.
type Verify struct {
	Mode           string        `mapstructure:"mode"`
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	IntrospectAddr string        `mapstructure:"introspect_addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// RemoteCheck asks auth-service on denylist misses in local mode.
	RemoteCheck   bool          `mapstructure:"remote_check"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func (v Verify) AsAuthorityConfig() authority.Config {
	return authority.Config{
		Secret:     []byte(v.Secret),
		Issuer:     v.Issuer,
		AccessTTL:  v.AccessTTL,
		RefreshTTL: v.RefreshTTL,
	}
}

type Kafka struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// GroupPrefix names the denylist feed's consumer groups. Each process
	// appends a random suffix and replays the topic from the start.
	GroupPrefix string `mapstructure:"group_prefix"`
}

type Config struct {
	App       App            `mapstructure:"app"`
	Server    Server         `mapstructure:"server"`
	Upstreams Upstreams      `mapstructure:"upstreams"`
	Verify    Verify         `mapstructure:"verify"`
	Kafka     Kafka          `mapstructure:"kafka"`
	Log       obs.LogConfig  `mapstructure:"log"`
	OTEL      obs.OTELConfig `mapstructure:"otel"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	if c.Upstreams.Auth == "" || c.Upstreams.User == "" {
		return ErrConfig("upstreams.auth and upstreams.user are required")
	}
	switch c.Verify.Mode {
	case ModeRemote:
		if c.Verify.IntrospectAddr == "" {
			return ErrConfig("verify.introspect_addr is required in remote mode")
		}
	case ModeLocal:
		if err := c.Verify.AsAuthorityConfig().Validate(); err != nil {
			return ErrConfig("verify: " + err.Error())
		}
		if c.Verify.RemoteCheck && c.Verify.IntrospectAddr == "" {
			return ErrConfig("verify.introspect_addr is required with verify.remote_check")
		}
		if !c.Verify.RemoteCheck && !c.Kafka.Enable {
			return ErrConfig("local mode needs kafka events, verify.remote_check, or both")
		}
	default:
		return ErrConfig("verify.mode must be local or remote")
	}
	if c.Kafka.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.GroupPrefix == "") {
		return ErrConfig("kafka.brokers, kafka.topic and kafka.group_prefix are required")
	}
	return nil
}
