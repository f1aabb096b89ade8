package config

import (
	"strings"
	"time"
)

type RealtimeConfig interface {
	GetRealtimeURL() string
	GetReconnectInterval() time.Duration
	GetMaxReconnectAttempts() int
}

type Realtime struct{}

var _ RealtimeConfig = Realtime{}

// GetRealtimeURL defaults to the websocket endpoint next to the API.
func (Realtime) GetRealtimeURL() string {
	if url := GetEnv("REALTIME_URL", ""); url != "" {
		return url
	}
	api := EnvVars{}.GetAPIURL()
	api = strings.Replace(api, "http://", "ws://", 1)
	api = strings.Replace(api, "https://", "wss://", 1)
	return api + "ws"
}

func (Realtime) GetReconnectInterval() time.Duration {
	return GetDurationEnv("RECONNECT_INTERVAL", 3*time.Second)
}

func (Realtime) GetMaxReconnectAttempts() int {
	return GetIntEnv("RECONNECT_MAX_ATTEMPTS", 5)
}
