package config

import (
	"fmt"
	"os"
)

// Config holds the server configuration, loaded from the environment.
type Config struct {
	// Port the HTTP API listens on.
	Port string

	// AvatarServiceURL is the websocket endpoint of the digital human
	// rendering service.
	AvatarServiceURL string

	// AvatarAppID and AvatarToken authenticate this server against the
	// rendering service in the initialize message.
	AvatarAppID string
	AvatarToken string

	// RTCAppID and RTCAppKey sign the room access tokens handed to the
	// browser RTC SDK. RTCAppKey is a secret and never leaves the server.
	RTCAppID  string
	RTCAppKey string

	// JWTSecret signs trainee API tokens.
	JWTSecret string
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		AvatarServiceURL: os.Getenv("AVATAR_SERVICE_URL"),
		AvatarAppID:      os.Getenv("AVATAR_APP_ID"),
		AvatarToken:      os.Getenv("AVATAR_TOKEN"),
		RTCAppID:         os.Getenv("RTC_APP_ID"),
		RTCAppKey:        os.Getenv("RTC_APP_KEY"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
	}

	if cfg.AvatarServiceURL == "" {
		return nil, fmt.Errorf("AVATAR_SERVICE_URL is required")
	}
	if cfg.AvatarAppID == "" || cfg.AvatarToken == "" {
		return nil, fmt.Errorf("AVATAR_APP_ID and AVATAR_TOKEN are required")
	}
	if cfg.RTCAppID == "" || cfg.RTCAppKey == "" {
		return nil, fmt.Errorf("RTC_APP_ID and RTC_APP_KEY are required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
