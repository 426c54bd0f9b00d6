package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devatadev/gowvlicense/license"
	"github.com/devatadev/gowvlicense/transport"
)

var licenseCmd = &cobra.Command{
	Use:   "license [device] [pssh] [server]",
	Short: "Make a License Request for PSSH to SERVER using DEVICE",
	Long: `Make a License Request for PSSH to SERVER using DEVICE and print all keys
within the returned license.

The license server is expected to be a simple opaque interface: the challenge
is sent as is (as bytes) and the license response is returned as is (as bytes).`,
	Example: `  # Request a streaming license
  gowvlicense license device.wvd AAAAW3Bzc2gAAAAA7e+LqXnWSs6jyCfc1R0h7QAAADsIARIQ... https://license.example.com

  # Use privacy mode and print the keys as JSON
  gowvlicense license device.wvd $PSSH https://license.example.com --privacy -o json

  # Raw init data, offline license
  gowvlicense license device.wvd CAESEBEiM0RVZneImaq7zN3u/wA= https://license.example.com --raw -t OFFLINE
`,
	Args: cobra.ExactArgs(3),
	RunE: licenseCmdRun,
}

type licenseFlags struct {
	licenseType string
	raw         bool
	privacy     bool
	output      string
}

var licenseArgs = licenseFlags{
	licenseType: "STREAMING",
	output:      string(license.FormatText),
}

func init() {
	licenseCmd.Flags().StringVarP(&licenseArgs.licenseType, "type", "t", licenseArgs.licenseType,
		fmt.Sprintf("License Type to Request. Options: [%s].", strings.Join(license.LicenseTypes(), ", ")))
	licenseCmd.Flags().BoolVarP(&licenseArgs.raw, "raw", "r", false,
		"PSSH is Raw.")
	licenseCmd.Flags().BoolVarP(&licenseArgs.privacy, "privacy", "p", false,
		"Use Privacy Mode, off by default.")
	licenseCmd.Flags().StringVarP(&licenseArgs.output, "output", "o", licenseArgs.output,
		fmt.Sprintf("Output format for the keys. Options: [%s].", strings.Join(license.Formats(), ", ")))
	rootCmd.AddCommand(licenseCmd)
}

func licenseCmdRun(cmd *cobra.Command, args []string) error {
	typ, err := license.ParseLicenseType(licenseArgs.licenseType)
	if err != nil {
		return err
	}
	format, err := license.ParseFormat(licenseArgs.output)
	if err != nil {
		return err
	}

	transportOpts := []transport.Option{
		transport.WithTimeout(cfg.Timeout),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithLogger(logger),
	}
	acquirer := license.NewAcquirer(
		newEngine(),
		transport.New(transportOpts...),
		license.WithCertificateTransport(transport.New(append(transportOpts, transport.WithRetries(cfg.CertRetries))...)),
		license.WithLogger(logger.WithField("command", "license")),
	)

	res, err := acquirer.Acquire(cmd.Context(), license.Request{
		DevicePath: args[0],
		ContentID:  args[1],
		ServerURL:  args[2],
		Type:       typ,
		Raw:        licenseArgs.raw,
		Privacy:    licenseArgs.privacy,
	})
	if err != nil {
		return err
	}

	return license.NewReporter(cmd.OutOrStdout(), format).Report(res.Keys)
}
