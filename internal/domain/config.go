package domain

import "time"

// Config is the runtime configuration handed to services and usecases.
// The private key is held in memory only and must never be persisted or
// logged; only AuthorKey (the derived public key) leaves the process.
type Config struct {
	FQDN       string
	PrivateKey string
	AuthorKey  string

	Relays           []string
	MinContentLength int

	RelayTimeout   time.Duration
	BackoffInitial time.Duration
	BackoffFactor  float64
	BackoffCap     time.Duration

	AdminTokenHash string
}

// Defaults applied by config loading when a field is unset.
const (
	DefaultMinContentLength = 30
	DefaultRelayTimeout     = 5 * time.Second
	DefaultBackoffInitial   = 5 * time.Second
	DefaultBackoffFactor    = 2.0
	DefaultBackoffCap       = 120 * time.Second
)
