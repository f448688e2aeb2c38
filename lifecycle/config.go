package lifecycle

import (
	"fmt"
	"log/slog"
	"time"
)

const DefaultDrainTimeout = 30 * time.Second

type Config struct {
	Logger       *slog.Logger  `json:"-"`
	IdleTimeout  time.Duration `json:"idle-timeout"`
	MaxQueueWait time.Duration `json:"max-queue-wait"`
	PollInterval time.Duration `json:"poll-interval"`
	DrainTimeout time.Duration `json:"drain-timeout"`
}

func Validate(config Config) error {
	if config.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be greater than 0")
	}
	if config.MaxQueueWait <= 0 {
		return fmt.Errorf("max-queue-wait must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be greater than 0")
	}
	if config.DrainTimeout < 0 {
		return fmt.Errorf("drain-timeout must not be negative")
	}
	return nil
}
