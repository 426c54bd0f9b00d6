package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GOWVLICENSE"

// Config is the runtime configuration, merged from flags and environment.
type Config struct {
	Debug       bool
	LogFormat   string
	Timeout     time.Duration
	UserAgent   string
	CertRetries int
}

// loadConfig resolves each setting from its flag when set on the command
// line, then from GOWVLICENSE_<NAME>, then from the flag default.
func loadConfig(flags *pflag.FlagSet) (*Config, error) {
	options := viper.New()
	options.SetEnvPrefix(envPrefix)
	options.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	options.AutomaticEnv()

	for _, name := range []string{"debug", "log-format", "timeout", "user-agent", "cert-retries"} {
		if f := flags.Lookup(name); f != nil {
			if err := options.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	c := &Config{
		Debug:       options.GetBool("debug"),
		LogFormat:   strings.ToLower(options.GetString("log-format")),
		Timeout:     options.GetDuration("timeout"),
		UserAgent:   options.GetString("user-agent"),
		CertRetries: options.GetInt("cert-retries"),
	}

	if c.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.CertRetries < 0 {
		return nil, fmt.Errorf("cert-retries must not be negative, got %d", c.CertRetries)
	}
	return c, nil
}
