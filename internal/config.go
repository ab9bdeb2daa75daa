package internal

import (
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config is the hub configuration, read from the environment.
type Config struct {
	Host         string `env:"HOST,default=0.0.0.0" validate:"required"`
	StreamPort   int    `env:"STREAM_PORT,default=5000" validate:"gte=0,lte=65535"`
	DatagramPort int    `env:"DATAGRAM_PORT,default=6000" validate:"gte=0,lte=65535"`
	// DebugPort serves /metrics, /healthz and /stats. Zero disables it.
	DebugPort int `env:"DEBUG_PORT,default=0" validate:"gte=0,lte=65535"`

	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s" validate:"gt=0"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT,default=2s" validate:"gt=0"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT,default=5s" validate:"gt=0"`

	ConnectionBufferSize int `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gt=0"`
	MaxFrameSize         int `env:"MAX_FRAME_SIZE,default=65536" validate:"gte=16"`
	DatagramBufferSize   int `env:"DATAGRAM_BUFFER_SIZE,default=65507" validate:"gte=512,lte=65507"`
	MaxInFlight          int `env:"MAX_IN_FLIGHT,default=64" validate:"gt=0"`

	PruneAddressesOnLeave bool `env:"PRUNE_ADDRESSES_ON_LEAVE,default=false"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s" validate:"gt=0"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO" validate:"required"`
}

// Load reads an optional .env file, then the environment, then validates.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("cannot read .env: %w", err)
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
