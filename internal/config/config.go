package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode"`
	LogLevel string       `mapstructure:"log_level"`
	Server   ServerConfig `mapstructure:"server"`
	Client   ClientConfig `mapstructure:"client"`
}

// ServerConfig configures the signaling relay.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	SendQueue        int           `mapstructure:"send_queue"`
	Codec            string        `mapstructure:"codec"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
}

// ClientConfig configures one voice participant.
type ClientConfig struct {
	RelayURL          string        `mapstructure:"relay_url"`
	DisplayName       string        `mapstructure:"display_name"`
	LoungeID          string        `mapstructure:"lounge_id"`
	TableID           string        `mapstructure:"table_id"`
	ControlAddr       string        `mapstructure:"control_addr"`
	Codec             string        `mapstructure:"codec"`
	ICEServers        []string      `mapstructure:"ice_servers"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	SpeakingInterval  time.Duration `mapstructure:"speaking_interval"`
	SpeakingThreshold float64       `mapstructure:"speaking_threshold"`
	FFTSize           int           `mapstructure:"fft_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.send_queue", 64)
	v.SetDefault("server.codec", "json")
	v.SetDefault("server.join_rate_limit", 5)
	v.SetDefault("server.join_rate_interval", "10s")

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.lounge_id", "main")
	v.SetDefault("client.control_addr", "127.0.0.1:7070")
	v.SetDefault("client.codec", "json")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.grace_period", "5s")
	v.SetDefault("client.speaking_interval", "100ms")
	v.SetDefault("client.speaking_threshold", 10)
	v.SetDefault("client.fft_size", 256)
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Server.Port).Msg("config ready")
	return &cfg, nil
}
