package main

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/puyokura/nchat/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultAddress = "127.0.0.1:8080"

type MonitorConfig struct {
	Address       string `mapstructure:"address"` // empty disables the monitor
	AdminPassword string `mapstructure:"admin_password"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"` // empty disables the relay
	Subject string `mapstructure:"subject"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"` // empty disables presence
	Key string `mapstructure:"key"`
}

type Config struct {
	Address string        `mapstructure:"address"`
	Groups  []string      `mapstructure:"groups"`
	Console bool          `mapstructure:"console"`
	Log     logger.Config `mapstructure:"log"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	log := logger.DefaultConfig()
	v.SetDefault("address", defaultAddress)
	v.SetDefault("groups", []string{})
	v.SetDefault("console", true)
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.console", log.Console)
	v.SetDefault("log.json", log.JSON)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", log.MaxSize)
	v.SetDefault("log.max_backups", log.MaxBackups)
	v.SetDefault("log.max_age", log.MaxAge)
	v.SetDefault("log.compress", log.Compress)
	v.SetDefault("monitor.address", "")
	v.SetDefault("monitor.admin_password", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", defaultRelaySubject)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", defaultPresenceKey)
}

// LoadConfig layers flags over NCHAT_* environment variables over the
// optional JSON config file over defaults.
func LoadConfig(args []string) (Config, error) {
	var cfg Config

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringP("address", "a", defaultAddress, "server will listen on <ADDRESS>")
	fs.StringP("config", "c", "", "path to a JSON configuration file")
	fs.StringSlice("groups", nil, "extra groups besides global")
	fs.Bool("console", true, "read admin commands from stdin")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", "", "also write logs to this rotating file")
	fs.String("monitor", "", "HTTP monitor address, empty disables it")
	fs.String("nats", "", "NATS URL to relay messages to, empty disables it")
	fs.String("redis", "", "redis URL to mirror members to, empty disables it")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v)
	bindings := map[string]string{
		"address":         "address",
		"groups":          "groups",
		"console":         "console",
		"log.level":       "log-level",
		"log.file":        "log-file",
		"monitor.address": "monitor",
		"nats.url":        "nats",
		"redis.url":       "redis",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return cfg, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("NCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if _, err := netip.ParseAddrPort(cfg.Address); err != nil {
		return cfg, fmt.Errorf("invalid address %q: %w", cfg.Address, err)
	}
	return cfg, nil
}
