package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	LogLevel          string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort          string `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort        string `yaml:"socket-port" env:"SOCKET_PORT" env-default:"9091"`
	Storage           string `yaml:"storage" env:"STORAGE" env-default:"memory"`
	Redis             Redis  `yaml:"redis"`
	SQLiteStoragePath string `yaml:"sqlite-storage-path" env:"SQLITE_STORAGE_PATH" env-default:"./wager.db"`
	Game              Game   `yaml:"game"`
}

type Redis struct {
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port        string        `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DialTimeout time.Duration `yaml:"dial-timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
}

// Game seeds the settings table on first start and tunes the engine timers.
type Game struct {
	MinBet                string  `yaml:"min-bet" env-default:"1"`
	MaxBet                string  `yaml:"max-bet" env-default:"100"`
	BotWinProbability     float64 `yaml:"bot-win-probability" env-default:"0.7"`
	MaxWinsPerUser        int     `yaml:"max-wins-per-user" env-default:"3"`
	PlatformFeePercent    string  `yaml:"platform-fee-percent" env-default:"5"`
	BotPlatformFeePercent string  `yaml:"bot-platform-fee-percent" env-default:"10"`
	StartingBalance       string  `yaml:"starting-balance" env-default:"100"`

	TurnTimeout               time.Duration `yaml:"turn-timeout" env-default:"15s"`
	BotJoinMinDelay           time.Duration `yaml:"bot-join-min-delay" env-default:"15s"`
	BotJoinMaxDelay           time.Duration `yaml:"bot-join-max-delay" env-default:"60s"`
	SettingsRefreshInterval   time.Duration `yaml:"settings-refresh-interval" env-default:"30s"`
	BotWinWindow              time.Duration `yaml:"bot-win-window" env-default:"24h"`
	CappedWinProbabilityScale float64       `yaml:"capped-win-probability-scale" env-default:"0.5"`
	HumanTimeoutPolicy        string        `yaml:"human-timeout-policy" env:"HUMAN_TIMEOUT_POLICY" env-default:"wait"`
	BotNames                  []string      `yaml:"bot-names" env-default:"Alex,Sam,Robin,Casey"`
}

// MustLoad - load all configurations in config.yml file. A .env next to it may override values.
func MustLoad(path string) *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(fmt.Errorf("unable to load .env file: %w", err))
	}

	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	for key, value := range config.Game.amounts() {
		if _, err := decimal.NewFromString(value); err != nil {
			panic(fmt.Errorf("invalid amount for game.%s: %w", key, err))
		}
	}

	return config
}

func (that *Game) amounts() map[string]string {
	return map[string]string{
		"min-bet":                  that.MinBet,
		"max-bet":                  that.MaxBet,
		"platform-fee-percent":     that.PlatformFeePercent,
		"bot-platform-fee-percent": that.BotPlatformFeePercent,
		"starting-balance":         that.StartingBalance,
	}
}

// Amount parses a money setting that MustLoad already validated.
func Amount(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
