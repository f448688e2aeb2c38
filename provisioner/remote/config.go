package remote

import (
	"log/slog"
	"time"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Base URL of the provisioning service
	Endpoint string `json:"endpoint"`
	// Sent as a bearer token when set
	APIKey string `json:"-"`
	// Maximum number of attempts per call, transport failures and 5xx responses are retried
	MaxAttempts int `json:"max-attempts"`
	// Timeout of a single attempt
	Timeout time.Duration `json:"timeout"`
	// Maximum number of attempts per second across all calls, 0 for no limit
	RateLimit float64 `json:"rate-limit"`
}

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 5 * time.Minute
)
