package librtm

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultAPIURL           = "https://slack.com/api"
	DefaultSendTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBootstrapTimeout = 10 * time.Second
	DefaultMaxPending       = 256
)

// Config controls how the client connects and how long callers wait on it.
type Config struct {
	// APIURL is the web API base the bootstrap call goes to.
	APIURL string
	Token  string

	// SendTimeout bounds how long an outbound call waits for the supervisor.
	SendTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BootstrapTimeout time.Duration

	// PingInterval enables keep-alive pings when positive.
	PingInterval time.Duration

	// MaxPending is how many outbound commands are held while not connected.
	MaxPending int

	// MaxBackoff caps the reconnect delay. Zero leaves it unbounded.
	MaxBackoff time.Duration

	// MinUptime makes a connection that drops sooner than this count as a
	// failed attempt, so the next one waits for the backoff delay. Zero
	// reconnects right away after any drop.
	MinUptime time.Duration
}

// DefaultConfig returns sensible defaults. Token still has to be set.
func DefaultConfig() Config {
	return Config{
		APIURL:           DefaultAPIURL,
		SendTimeout:      DefaultSendTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		BootstrapTimeout: DefaultBootstrapTimeout,
		MaxPending:       DefaultMaxPending,
	}
}

// Validate reports the first invalid setting. needsAPI is false when a
// custom bootstrapper replaces the web API.
func (c Config) Validate(needsAPI bool) error {
	if needsAPI {
		if c.APIURL == "" {
			return errors.New("config: api url is required")
		}
		if c.Token == "" {
			return errors.New("config: token is required")
		}
	}
	if c.SendTimeout < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 || c.BootstrapTimeout < 0 {
		return errors.New("config: timeouts cannot be negative")
	}
	if c.PingInterval < 0 {
		return errors.New("config: ping interval cannot be negative")
	}
	if c.MaxPending < 0 {
		return errors.New("config: max pending cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("config: max backoff cannot be negative")
	}
	if c.MinUptime < 0 {
		return errors.New("config: min uptime cannot be negative")
	}
	return nil
}
