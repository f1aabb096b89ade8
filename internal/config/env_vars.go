package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	apiURLEnvVar      = "API_URL"
	appNameVar        = "APP_NAME"
	folderEnvVar      = "FOLDER"
	storeDriverEnvVar = "STORE_DRIVER"
	logLevelEnvVar    = "LOG_LEVEL"
)

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Go Auth Client")
}

// GetAPIURL returns the backend base URL, always with a trailing slash so that
// relative endpoint paths ("auth/login") resolve beneath it.
func (EnvVars) GetAPIURL() string {
	url := GetEnv(apiURLEnvVar, "http://localhost:8000/api/v1/")
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetStoreDriver() string {
	return GetEnv(storeDriverEnvVar, StoreDriverSQLite)
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelEnvVar, "info")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDurationEnv parses a Go duration ("500ms", "3s"). Invalid values fall back to the default.
func GetDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func GetIntEnv(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}
