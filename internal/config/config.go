package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	StaticPath  string        `mapstructure:"static_path"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	SessionName string        `mapstructure:"session_name"`

	// RingTimeout bounds how long an unanswered call keeps ringing.
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	// SendBuffer is the per-connection outbound frame buffer; a full buffer
	// means the consumer is slow and frames get dropped.
	SendBuffer int `mapstructure:"send_buffer"`
	// SlowKickThreshold disconnects a consumer after this many dropped frames.
	SlowKickThreshold int `mapstructure:"slow_kick_threshold"`

	// InviteRateLimit / InviteRateWindow bound call setup attempts per user.
	InviteRateLimit  int           `mapstructure:"invite_rate_limit"`
	InviteRateWindow time.Duration `mapstructure:"invite_rate_window"`

	// ICEServersJSON is a JSON array of ICE server entries. When empty, the
	// convenience keys below are used instead.
	ICEServersJSON string `mapstructure:"ice_servers_json"`
	STUNURLs       string `mapstructure:"stun_urls"`
	TURNURLs       string `mapstructure:"turn_urls"`
	TURNUsername   string `mapstructure:"turn_username"`
	TURNCredential string `mapstructure:"turn_credential"`

	ice iceCache
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("session_name", "WorkspaceSession")
	v.SetDefault("secret", "dev-only-not-a-secret")
	v.SetDefault("ring_timeout", "30s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("slow_kick_threshold", 8)
	v.SetDefault("invite_rate_limit", 10)
	v.SetDefault("invite_rate_window", "1m")
	v.SetDefault("stun_urls", "stun:stun.l.google.com:19302")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.ICEServers(); err != nil {
		return nil, fmt.Errorf("ice config: %w", err)
	}
	return &cfg, nil
}
