package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/puyokura/nchat/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultLocal    = "127.0.0.1:9090"
	defaultServer   = "127.0.0.1:8080"
	defaultGroup    = "global"
	defaultNickname = "unknown"
	defaultLogFile  = "client.log"
)

type Config struct {
	Address  string        `mapstructure:"address"`
	Server   string        `mapstructure:"server"`
	Group    string        `mapstructure:"group"`
	Nickname string        `mapstructure:"nickname"`
	Log      logger.Config `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	log := logger.DefaultConfig()
	v.SetDefault("address", defaultLocal)
	v.SetDefault("server", defaultServer)
	v.SetDefault("group", defaultGroup)
	v.SetDefault("nickname", defaultNickname)
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.json", log.JSON)
	v.SetDefault("log.file", defaultLogFile)
	v.SetDefault("log.max_size", log.MaxSize)
	v.SetDefault("log.max_backups", log.MaxBackups)
	v.SetDefault("log.max_age", log.MaxAge)
	v.SetDefault("log.compress", log.Compress)
}

// LoadConfig reads flags, NCHAT_CLIENT_* variables and an optional JSON file, in
// that order of precedence.
func LoadConfig(args []string) (Config, error) {
	var cfg Config

	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.StringP("address", "a", defaultLocal, "client will bind on <ADDRESS>")
	fs.StringP("server", "s", defaultServer, "client will connect to <SERVER>")
	fs.StringP("group", "g", defaultGroup, "group to join")
	fs.StringP("nickname", "n", defaultNickname, "nickname shown to other members")
	fs.String("config", "", "path to a JSON configuration file")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", defaultLogFile, "rotating log file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v)
	for key, flag := range map[string]string{
		"address":   "address",
		"server":    "server",
		"group":     "group",
		"nickname":  "nickname",
		"log.level": "log-level",
		"log.file":  "log-file",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return cfg, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("NCHAT_CLIENT")
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

	// The terminal belongs to the UI.
	cfg.Log.Console = false

	switch {
	case cfg.Address == "":
		return cfg, errors.New("address must not be empty")
	case cfg.Server == "":
		return cfg, errors.New("server must not be empty")
	case cfg.Group == "":
		return cfg, errors.New("group must not be empty")
	}
	return cfg, nil
}
