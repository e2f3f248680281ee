// Package config loads the small set of options a cache-owning
// CacheFacade.NewOwning caller needs: the ensemble host list, DialTimeout
// (which a NewOwning caller passes as its warm-cache wait), and the session
// timeout handed to the coordination client. It is deliberately narrow; anything else (registration paths,
// deserializers) is Go code, not configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options is the cache-owning construction mode's connection configuration.
type Options struct {
	Hosts          []string      `yaml:"hosts"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

const (
	defaultDialTimeout    = 5 * time.Second
	defaultSessionTimeout = 10 * time.Second
)

// rawOptions mirrors Options but with duration fields as strings, since
// yaml.v3 does not natively decode time.Duration.
type rawOptions struct {
	Hosts          []string `yaml:"hosts"`
	DialTimeout    string   `yaml:"dial_timeout"`
	SessionTimeout string   `yaml:"session_timeout"`
}

// Load reads and validates Options from a YAML file at path.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	return Parse(data)
}

// Parse decodes Options from YAML bytes, applying defaults for any omitted
// duration field and rejecting an empty host list.
func Parse(data []byte) (Options, error) {
	var raw rawOptions
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Options{}, fmt.Errorf("config: %w", err)
	}

	opts := Options{Hosts: raw.Hosts, DialTimeout: defaultDialTimeout, SessionTimeout: defaultSessionTimeout}

	if raw.DialTimeout != "" {
		d, err := time.ParseDuration(raw.DialTimeout)
		if err != nil {
			return Options{}, fmt.Errorf("config: dial_timeout: %w", err)
		}
		opts.DialTimeout = d
	}
	if raw.SessionTimeout != "" {
		d, err := time.ParseDuration(raw.SessionTimeout)
		if err != nil {
			return Options{}, fmt.Errorf("config: session_timeout: %w", err)
		}
		opts.SessionTimeout = d
	}
	if len(opts.Hosts) == 0 {
		return Options{}, fmt.Errorf("config: hosts must not be empty")
	}
	return opts, nil
}
