// Command apiprobe probes a running HTTP API against its OpenAPI description:
// it generates conforming and violating requests, walks declared links and
// reports responses that break the declared contract.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 1 means the run itself failed, 2 means the run finished and
// found failures. Scripts can tell a broken probe from a broken API.
const (
	exitError    = 1
	exitFailures = 2
)

var errFailuresFound = errors.New("failures found")

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "apiprobe",
	Short:        "Probe a running HTTP API against its OpenAPI description",
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errFailuresFound) {
			os.Exit(exitFailures)
		}
		os.Exit(exitError)
	}
}
