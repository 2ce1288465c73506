package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

type Config struct {
	Site   Site   `yaml:"site"`
	Server Server `yaml:"server"`
	Relay  Relay  `yaml:"relay"`
}

type Site struct {
	FQDN       string `yaml:"fqdn"`
	PrivateKey string `yaml:"privatekey"`

	// ---
	AuthorKey string
}

type Server struct {
	Listen           string `yaml:"listen"`
	PostgresDsn      string `yaml:"postgresDsn"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisDB          int    `yaml:"redisDB"`
	MemcachedAddr    string `yaml:"memcachedAddr"`
	EnableTrace      bool   `yaml:"enableTrace"`
	TraceEndpoint    string `yaml:"traceEndpoint"`
	AdminTokenHash   string `yaml:"adminTokenHash"`
	IndexerInterval  string `yaml:"indexerInterval"`
	ModerationPolicy string `yaml:"moderationPolicy"`
}

type Relay struct {
	URLs             []string `yaml:"urls"`
	MinContentLength int      `yaml:"minContentLength"`
	TimeoutSeconds   int      `yaml:"timeoutSeconds"`
	BackoffSeconds   int      `yaml:"backoffSeconds"`
	BackoffFactor    float64  `yaml:"backoffFactor"`
	BackoffCapSecs   int      `yaml:"backoffCapSeconds"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	priv, err := imprint.ParseSecret(config.Site.PrivateKey)
	if err != nil {
		return Config{}, fmt.Errorf("invalid site private key: %w", err)
	}
	config.Site.AuthorKey = imprint.PubkeyHex(priv)

	return config, nil
}

// Domain flattens the file layout into the runtime config, applying
// defaults for unset tuning knobs.
func (c Config) Domain() *domain.Config {
	conf := &domain.Config{
		FQDN:             c.Site.FQDN,
		PrivateKey:       c.Site.PrivateKey,
		AuthorKey:        c.Site.AuthorKey,
		Relays:           c.Relay.URLs,
		MinContentLength: c.Relay.MinContentLength,
		RelayTimeout:     time.Duration(c.Relay.TimeoutSeconds) * time.Second,
		BackoffInitial:   time.Duration(c.Relay.BackoffSeconds) * time.Second,
		BackoffFactor:    c.Relay.BackoffFactor,
		BackoffCap:       time.Duration(c.Relay.BackoffCapSecs) * time.Second,
		AdminTokenHash:   c.Server.AdminTokenHash,
	}

	if conf.MinContentLength == 0 {
		conf.MinContentLength = domain.DefaultMinContentLength
	}
	if conf.RelayTimeout == 0 {
		conf.RelayTimeout = domain.DefaultRelayTimeout
	}
	if conf.BackoffInitial == 0 {
		conf.BackoffInitial = domain.DefaultBackoffInitial
	}
	if conf.BackoffFactor == 0 {
		conf.BackoffFactor = domain.DefaultBackoffFactor
	}
	if conf.BackoffCap == 0 {
		conf.BackoffCap = domain.DefaultBackoffCap
	}

	return conf
}
