package config

import (
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	OAuthConfig
	RealtimeConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIURL() string
	GetDataFolder() string
	GetStoreDriver() string
	GetLogLevel() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Realtime
}

// New returns the environment backed configuration. A .env file in the working
// directory is loaded first when present; variables already set win.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
