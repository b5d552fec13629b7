package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "SWITCHBOARD"

type Config struct {
	DBFile        string        `envconfig:"DB" default:"switchboard.db"`
	APIAddr       string        `envconfig:"API_ADDR" default:":8080"`
	AdminAddr     string        `envconfig:"ADMIN_ADDR" default:"localhost:8081"`
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenExpiry   time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`
	TokenCacheTTL time.Duration `envconfig:"TOKEN_CACHE_TTL" default:"5m"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"json"`
	SendBuffer    int           `envconfig:"SEND_BUFFER" default:"100"`
	// FlushMarksRead marks notifications read once they were delivered on
	// reconnect. Off keeps them unread until the client marks them.
	FlushMarksRead bool `envconfig:"FLUSH_MARKS_READ" default:"false"`
	// IdempotentChannels reuses the latest chat of a company and user pair
	// instead of creating a new one on every request.
	IdempotentChannels bool     `envconfig:"IDEMPOTENT_CHANNELS" default:"false"`
	VAPIDPublicKey     string   `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey    string   `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber    string   `envconfig:"VAPID_SUBSCRIBER" default:"mailto:admin@localhost"`
	AllowedOrigins     []string `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file and then the environment. In CLI mode
// only the addresses matter, so the secret is not required.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.JWTSecret == "" && !cliMode {
		return fmt.Errorf("%s_JWT_SECRET is required", envPrefix)
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("%s_TOKEN_EXPIRY must be greater than 0", envPrefix)
	}

	if c.TokenCacheTTL <= 0 {
		return fmt.Errorf("%s_TOKEN_CACHE_TTL must be greater than 0", envPrefix)
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("%s_SEND_BUFFER must be greater than 0", envPrefix)
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("VAPID public and private keys must be set together")
	}

	return nil
}

// PushEnabled reports whether Web Push is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
