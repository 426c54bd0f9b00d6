package main

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("debug", false, "")
	flags.Duration("timeout", 30*time.Second, "")
	flags.String("user-agent", "gowvlicense/dev", "")
	flags.Int("cert-retries", 0, "")
	flags.String("log-format", "text", "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	g := NewWithT(t)

	c, err := loadConfig(testFlags())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(*c).To(Equal(Config{
		LogFormat: "text",
		Timeout:   30 * time.Second,
		UserAgent: "gowvlicense/dev",
	}))
}

func TestLoadConfig_Env(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("GOWVLICENSE_DEBUG", "true")
	t.Setenv("GOWVLICENSE_TIMEOUT", "5s")
	t.Setenv("GOWVLICENSE_USER_AGENT", "player/1.0")
	t.Setenv("GOWVLICENSE_CERT_RETRIES", "3")
	t.Setenv("GOWVLICENSE_LOG_FORMAT", "JSON")

	c, err := loadConfig(testFlags())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(*c).To(Equal(Config{
		Debug:       true,
		LogFormat:   "json",
		Timeout:     5 * time.Second,
		UserAgent:   "player/1.0",
		CertRetries: 3,
	}))
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("GOWVLICENSE_TIMEOUT", "5s")

	flags := testFlags()
	g.Expect(flags.Parse([]string{"--timeout", "10s"})).To(Succeed())

	c, err := loadConfig(flags)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(c.Timeout).To(Equal(10 * time.Second))
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "zero timeout",
			env:     map[string]string{"GOWVLICENSE_TIMEOUT": "0s"},
			wantErr: "timeout must be positive",
		},
		{
			name:    "negative retries",
			env:     map[string]string{"GOWVLICENSE_CERT_RETRIES": "-2"},
			wantErr: "cert-retries must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := loadConfig(testFlags())
			g.Expect(err).To(MatchError(ContainSubstring(tt.wantErr)))
		})
	}
}

func TestInitLogger(t *testing.T) {
	g := NewWithT(t)

	err := initLogger(logger, new(nopWriter), &Config{LogFormat: "xml"})
	g.Expect(err).To(MatchError(ContainSubstring("unknown log format")))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
