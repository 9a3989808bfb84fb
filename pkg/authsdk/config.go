package authsdk

import (
	"os"
	"strconv"
	"time"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"golang.org/x/time/rate"
)

// Defaults for the session manager. All are configurable via Config; none
// are hard-coded policy.
const (
	DefaultLoginAttempts   = 3
	DefaultLoginBackoff    = 500 * time.Millisecond
	DefaultRefreshInterval = 5 * time.Minute
	DefaultLoginRate       = rate.Limit(5.0 / 60.0) // 5 login attempts per minute
	DefaultLoginBurst      = 5
)

type Config struct {
	// BaseURL of the portal backend, e.g. "https://api.portal.example.com".
	BaseURL string

	// Timeout bounds each HTTP call (default 10s).
	Timeout time.Duration

	// LoginAttempts is the outer retry budget for the login endpoint,
	// layered on top of (and instead of) transport-level retry.
	LoginAttempts int

	// LoginBackoff is the base of the login retry backoff; attempt n waits
	// LoginBackoff * 2^n.
	LoginBackoff time.Duration

	// LoginRate and LoginBurst throttle local login attempts
	// (brute force and accidental hammering prevention).
	LoginRate  rate.Limit
	LoginBurst int

	// RefreshInterval is the period of the automatic refresh timer.
	RefreshInterval time.Duration

	// Retry is the transport-level retry policy for API calls.
	Retry httpx.RetryPolicy

	// BreakerThreshold and BreakerCooldown configure the circuit breaker
	// guarding the API transport.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns a Config with the default constants applied.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		Timeout:          httpx.DefaultTimeout,
		LoginAttempts:    DefaultLoginAttempts,
		LoginBackoff:     DefaultLoginBackoff,
		LoginRate:        DefaultLoginRate,
		LoginBurst:       DefaultLoginBurst,
		RefreshInterval:  DefaultRefreshInterval,
		Retry:            httpx.DefaultRetryPolicy(),
		BreakerThreshold: httpx.DefaultBreakerThreshold,
		BreakerCooldown:  httpx.DefaultBreakerCooldown,
	}
}

// LoadConfig builds a Config from AUTHKIT_* environment variables, falling
// back to the defaults for anything unset.
func LoadConfig() Config {
	cfg := DefaultConfig(os.Getenv("AUTHKIT_BASE_URL"))

	cfg.Timeout = getEnvDurationOrDefault("AUTHKIT_TIMEOUT", cfg.Timeout)
	cfg.LoginAttempts = getEnvIntOrDefault("AUTHKIT_LOGIN_ATTEMPTS", cfg.LoginAttempts)
	cfg.LoginBackoff = getEnvDurationOrDefault("AUTHKIT_LOGIN_BACKOFF", cfg.LoginBackoff)
	cfg.RefreshInterval = getEnvDurationOrDefault("AUTHKIT_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.BreakerThreshold = getEnvIntOrDefault("AUTHKIT_BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerCooldown = getEnvDurationOrDefault("AUTHKIT_BREAKER_COOLDOWN", cfg.BreakerCooldown)

	cfg.Retry.MaxAttempts = getEnvIntOrDefault("AUTHKIT_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.BaseDelay = getEnvDurationOrDefault("AUTHKIT_RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.MaxDelay = getEnvDurationOrDefault("AUTHKIT_RETRY_MAX_DELAY", cfg.Retry.MaxDelay)

	return cfg
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
