package auth_service_config

import (
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	"github.com/NordCoder/Sentinel/internal/httpauth"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/outbox"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	redisstore "github.com/NordCoder/Sentinel/internal/repository/redis"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Token struct {
	Secret        string        `mapstructure:"secret"`
	Issuer        string        `mapstructure:"issuer"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	RotateRefresh bool          `mapstructure:"rotate_refresh"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

func (t Token) AsAuthorityConfig() authority.Config {
	return authority.Config{
		Secret:     []byte(t.Secret),
		Issuer:     t.Issuer,
		AccessTTL:  t.AccessTTL,
		RefreshTTL: t.RefreshTTL,
	}
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Revocation struct {
	Store         string            `mapstructure:"store"`
	SweepInterval time.Duration     `mapstructure:"sweep_interval"`
	Redis         redisstore.Config `mapstructure:"redis"`
}

// Users selects the user repository. The memory store serves local runs
// without a database and needs SeedAdmin to have anyone to log in as.
type Users struct {
	Store     string    `mapstructure:"store"`
	SeedAdmin SeedAdmin `mapstructure:"seed_admin"`
}

// SeedAdmin is created at startup unless a user with that name exists. An
// empty password disables seeding.
type SeedAdmin struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type Kafka struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type Config struct {
	App        App                   `mapstructure:"app"`
	Server     Server                `mapstructure:"server"`
	DB         pg.Config             `mapstructure:"db"`
	Log        obs.LogConfig         `mapstructure:"log"`
	OTEL       obs.OTELConfig        `mapstructure:"otel"`
	Token      Token                 `mapstructure:"token"`
	Cookies    httpauth.CookieConfig `mapstructure:"cookies"`
	Users      Users                 `mapstructure:"users"`
	Revocation Revocation            `mapstructure:"revocation"`
	Kafka      Kafka                 `mapstructure:"kafka"`
	Outbox     outbox.Config         `mapstructure:"outbox"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	switch c.Users.Store {
	case StorePostgres:
		if c.DB.DSN == "" {
			return ErrConfig("db.dsn is required")
		}
	case StoreMemory:
		if c.Revocation.Store != StoreMemory {
			return ErrConfig("users.store=memory runs without a database and needs revocation.store=memory")
		}
		if c.Users.SeedAdmin.Password == "" {
			return ErrConfig("users.store=memory needs users.seed_admin.password")
		}
	default:
		return ErrConfig("users.store must be memory or postgres")
	}
	if err := c.Token.AsAuthorityConfig().Validate(); err != nil {
		return ErrConfig("token: " + err.Error())
	}
	switch c.Revocation.Store {
	case StoreMemory, StorePostgres:
	case StoreRedis:
		if c.Revocation.Redis.Addr == "" {
			return ErrConfig("revocation.redis.addr is required for the redis store")
		}
	default:
		return ErrConfig("revocation.store must be memory, postgres or redis")
	}
	if c.Kafka.Enable {
		if c.Revocation.Store != StorePostgres {
			return ErrConfig("kafka events need revocation.store=postgres (they ride the outbox)")
		}
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return ErrConfig("kafka.brokers and kafka.topic are required")
		}
	}
	if c.App.Env == "production" && !c.Cookies.Secure {
		return ErrConfig("cookies.secure must be true in production")
	}
	return nil
}
