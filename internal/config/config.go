package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel   string    `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string    `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string    `yaml:"socket-port" env:"SOCKET_PORT" env-default:"9091"`
	Redis      Redis     `yaml:"redis"`
	Rooms      Rooms     `yaml:"rooms"`
	WebSocket  WebSocket `yaml:"websocket"`
	Auth       Auth      `yaml:"auth"`
	Archive    Archive   `yaml:"archive"`
	CORS       CORS      `yaml:"cors"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Rooms struct {
	MaxPlayers      int           `yaml:"max-players" env:"ROOMS_MAX_PLAYERS" env-default:"12"`
	TTL             time.Duration `yaml:"ttl" env:"ROOMS_TTL" env-default:"24h"`
	CodeAttempts    int           `yaml:"code-attempts" env:"ROOMS_CODE_ATTEMPTS" env-default:"10"`
	PresenceTimeout time.Duration `yaml:"presence-timeout" env:"ROOMS_PRESENCE_TIMEOUT" env-default:"45s"`
	SweepInterval   time.Duration `yaml:"sweep-interval" env:"ROOMS_SWEEP_INTERVAL" env-default:"10s"`
	MaxNameLength   int           `yaml:"max-name-length" env:"ROOMS_MAX_NAME_LENGTH" env-default:"20"`
}

type WebSocket struct {
	PingPeriod time.Duration `yaml:"ping-period" env:"WS_PING_PERIOD" env-default:"20s"`
	WriteWait  time.Duration `yaml:"write-wait" env:"WS_WRITE_WAIT" env-default:"10s"`
	ReadLimit  int64         `yaml:"read-limit" env:"WS_READ_LIMIT" env-default:"65536"`
	SendBuffer int           `yaml:"send-buffer" env:"WS_SEND_BUFFER" env-default:"64"`
	RateLimit  float64       `yaml:"rate-limit" env:"WS_RATE_LIMIT" env-default:"20"`
	RateBurst  int           `yaml:"rate-burst" env:"WS_RATE_BURST" env-default:"40"`
}

type Auth struct {
	JWTSecretKey string        `yaml:"jwt-secret-key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token-ttl" env:"TOKEN_TTL" env-default:"24h"`
}

type Archive struct {
	SQLitePath string `yaml:"sqlite-path" env:"ARCHIVE_SQLITE_PATH"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed-origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
}

// MustLoad - load all configurations in config.yml file, environment variables take precedence.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

// Enabled reports whether a Redis backend is configured. Without one the
// multiplayer features are switched off.
func (that *Redis) Enabled() bool {
	return that.Host != ""
}
