// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines the configuration of a record store client:
// the service endpoint, the client's identity and API credentials, its
// key pair, and tuning for its worker pool and transport.
//
// Configurations are stored as YAML. Because YAML is a superset of
// JSON, the JSON configuration files written by older clients load
// unchanged.
package config

import (
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
	yaml "gopkg.in/yaml.v2"
)

// DefaultAPIURL is the service endpoint used when none is configured.
const DefaultAPIURL = "https://api.e3db.com"

// Config is a client configuration.
type Config struct {
	Version     int            `yaml:"version"`
	APIURL      string         `yaml:"api_url"`
	APIKeyID    string         `yaml:"api_key_id"`
	APISecret   string         `yaml:"api_secret"`
	ClientID    uuid.UUID      `yaml:"client_id"`
	ClientEmail string         `yaml:"client_email,omitempty"`
	PublicKey   encryption.Key `yaml:"public_key"`
	PrivateKey  encryption.Key `yaml:"private_key"`

	// CryptoProvider names the registered encryption.Provider to use.
	CryptoProvider string `yaml:"crypto_provider,omitempty"`
	// MaxWorkers bounds the client's worker pool; zero means one
	// worker per CPU.
	MaxWorkers int `yaml:"max_workers,omitempty"`
	// QueueDepth bounds the number of operations waiting for a worker.
	QueueDepth int `yaml:"queue_depth,omitempty"`
	// RequestTimeout bounds each service request.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	// RequestRetries is the number of retries of idempotent requests
	// after temporary failures.
	RequestRetries int `yaml:"request_retries,omitempty"`
}

// Default returns a configuration with default settings and no
// identity.
func Default() Config {
	return Config{
		Version:        1,
		APIURL:         DefaultAPIURL,
		CryptoProvider: "nacl",
		QueueDepth:     10,
		RequestTimeout: 30 * time.Second,
		RequestRetries: 2,
	}
}

// DefaultPath returns the default location of the configuration file,
// $HOME/.tozny/e3db.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.E(errors.NotExist, "locating home directory", err)
	}
	return filepath.Join(home, ".tozny", "e3db.yaml"), nil
}

// Unmarshal parses a configuration. Settings absent from b keep their
// default values.
func Unmarshal(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.E(errors.Format, "parsing configuration", err)
	}
	return cfg, nil
}

// Load reads the configuration file at path.
func Load(path string) (Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.E("reading configuration", path, err)
	}
	cfg, err := Unmarshal(b)
	if err != nil {
		return Config{}, errors.E(path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, readable only by the current user, creating
// its directory if needed.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.E(errors.Invalid, "encoding configuration", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.E("saving configuration", err)
	}
	if err := ioutil.WriteFile(path, b, 0600); err != nil {
		return errors.E("saving configuration", err)
	}
	return nil
}

// Environment variables that override configuration settings.
var envKeys = map[string]string{
	"E3DB_API_URL":     "api_url",
	"E3DB_API_KEY_ID":  "api_key_id",
	"E3DB_API_SECRET":  "api_secret",
	"E3DB_CLIENT_ID":   "client_id",
	"E3DB_PRIVATE_KEY": "private_key",
}

// ApplyEnv overrides settings from the environment variables
// E3DB_API_URL, E3DB_API_KEY_ID, E3DB_API_SECRET, E3DB_CLIENT_ID and
// E3DB_PRIVATE_KEY, as reported by lookup. Pass os.LookupEnv to use the
// process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for env, key := range envKeys {
		if value, ok := lookup(env); ok && value != "" {
			if err := c.Set(key, value); err != nil {
				return errors.E(env, err)
			}
		}
	}
	return nil
}

// Set sets the setting named by its YAML key. Setting private_key also
// derives public_key when the provider is registered.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "version":
		c.Version, err = strconv.Atoi(value)
	case "api_url":
		c.APIURL = value
	case "api_key_id":
		c.APIKeyID = value
	case "api_secret":
		c.APISecret = value
	case "client_id":
		c.ClientID, err = uuid.Parse(value)
	case "client_email":
		c.ClientEmail = value
	case "public_key":
		err = c.PublicKey.UnmarshalText([]byte(value))
	case "private_key":
		if err = c.PrivateKey.UnmarshalText([]byte(value)); err == nil {
			if p, lerr := encryption.Lookup(c.CryptoProvider); lerr == nil {
				c.PublicKey, err = p.PublicKey(c.PrivateKey)
			}
		}
	case "crypto_provider":
		c.CryptoProvider = value
	case "max_workers":
		c.MaxWorkers, err = strconv.Atoi(value)
	case "queue_depth":
		c.QueueDepth, err = strconv.Atoi(value)
	case "request_timeout":
		c.RequestTimeout, err = time.ParseDuration(value)
	case "request_retries":
		c.RequestRetries, err = strconv.Atoi(value)
	default:
		return errors.E(errors.Invalid, "unknown configuration key", key)
	}
	if err != nil {
		return errors.E(errors.Invalid, "setting", key, err)
	}
	return nil
}

// Validate checks that c describes a usable client identity.
func (c Config) Validate() error {
	var problems []string
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "api_url must be an absolute URL")
	}
	if c.APIKeyID == "" || c.APISecret == "" {
		problems = append(problems, "api_key_id and api_secret are required")
	}
	if c.ClientID == uuid.Nil {
		problems = append(problems, "client_id is required")
	}
	if len(c.PrivateKey) != encryption.KeySize {
		problems = append(problems, "private_key must be 32 bytes")
	}
	if len(c.PublicKey) != 0 && len(c.PublicKey) != encryption.KeySize {
		problems = append(problems, "public_key must be 32 bytes")
	}
	if c.CryptoProvider == "" {
		problems = append(problems, "crypto_provider is required")
	}
	if c.QueueDepth < 0 || c.MaxWorkers < 0 || c.RequestRetries < 0 {
		problems = append(problems, "worker and retry settings must not be negative")
	}
	if len(problems) > 0 {
		return errors.E(errors.Invalid, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}
