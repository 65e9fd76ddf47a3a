package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ClientConfig drives cmd/client. Values come from flags, HUDDLE_* env vars
// and an optional client.yaml, in that order.
type ClientConfig struct {
	Server   string   `mapstructure:"server"`
	Username string   `mapstructure:"username"`
	STUN     []string `mapstructure:"stun"`
	Codec    string   `mapstructure:"codec"`
	OutDir   string   `mapstructure:"out_dir"`
	Video    bool     `mapstructure:"video"`
	Audio    bool     `mapstructure:"audio"`
	LogLevel string   `mapstructure:"log_level"`
}

func NewClientViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("client")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.huddle")

	v.SetDefault("server", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("username", "")
	v.SetDefault("stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("codec", "json")
	v.SetDefault("out_dir", ".")
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("log_level", "info")
	return v
}

func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read client config: %w", err)
		}
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.Server == "" {
		return nil, errors.New("server url is required")
	}
	switch cfg.Codec {
	case "json", "msgpack":
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	return &cfg, nil
}
