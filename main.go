package main

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devatadev/gowvlicense/license"
	"github.com/devatadev/gowvlicense/transport"
)

var (
	VERSION = "0.0.0-dev.0"
)

const (
	exitFailure          = 1
	exitTransportFailure = 2
)

var rootCmd = &cobra.Command{
	Use:               "gowvlicense",
	Version:           VERSION,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	Short:             "Widevine license client",
	Long: `gowvlicense requests Widevine licenses from a license server
using a provisioned device (.wvd) and prints the content keys.`,
	PersistentPreRunE: rootCmdPreRun,
}

type rootFlags struct {
	debug       bool
	timeout     time.Duration
	userAgent   string
	certRetries int
	logFormat   string
}

var (
	rootArgs = rootFlags{
		timeout:   transport.DefaultTimeout,
		userAgent: transport.DefaultUserAgent,
		logFormat: "text",
	}
	cfg    *Config
	logger = logrus.New()
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootArgs.debug, "debug", "d", false,
		"Enable DEBUG level logs.")
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", rootArgs.timeout,
		"The length of time to wait for each license server exchange.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.userAgent, "user-agent", rootArgs.userAgent,
		"The User-Agent header sent to the license server.")
	rootCmd.PersistentFlags().IntVar(&rootArgs.certRetries, "cert-retries", 0,
		"The number of retries for the service certificate request. License requests are never retried.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.logFormat, "log-format", rootArgs.logFormat,
		"The log format. Options: [text, json].")
	rootCmd.SetOut(os.Stdout)
}

func rootCmdPreRun(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	cfg = c

	if err = initLogger(logger, cmd.ErrOrStderr(), cfg); err != nil {
		return err
	}
	logger.Infof("gowvlicense version %s", VERSION)
	logger.Debugf("config: %+v", *cfg)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd, err)
		os.Exit(exitCode(err))
	}
}

// printError prints err unless it is a transport failure, which the
// acquisition has already logged with its status and body.
func printError(cmd *cobra.Command, err error) {
	var lerr *license.Error
	if errors.As(err, &lerr) && lerr.IsTransport() {
		return
	}
	cmd.PrintErrf("✗ %v\n", err)
}

// exitCode tells transport failures apart from every other failure.
func exitCode(err error) int {
	var lerr *license.Error
	if errors.As(err, &lerr) && lerr.IsTransport() {
		return exitTransportFailure
	}
	return exitFailure
}
