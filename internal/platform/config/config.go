package config

import (
	"os"
	"time"
)

// Client captures the remote endpoint and auth material the client core
// needs. Everything else (which project to open, which slide to view) is a
// runtime concern of the caller.
type Client struct {
	ServerURL      string
	Token          string
	Username       string
	Password       string
	RequestTimeout time.Duration
}

// FromEnv builds a Client config from environment variables so main stays lean.
func FromEnv() Client {
	serverURL := os.Getenv("SLIDEHUB_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("SLIDEHUB_REQUEST_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}

	return Client{
		ServerURL:      serverURL,
		Token:          os.Getenv("SLIDEHUB_TOKEN"),
		Username:       os.Getenv("SLIDEHUB_USER"),
		Password:       os.Getenv("SLIDEHUB_PASSWORD"),
		RequestTimeout: timeout,
	}
}
