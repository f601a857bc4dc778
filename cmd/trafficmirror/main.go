package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trafficmirror",
	Short: "Observe outbound HTTP traffic and mirror it to a Traffic Inspector",
	Long: `trafficmirror wraps a standard HTTP client with the traffic
interceptor and issues GET requests against the given URLs. Admitted,
not-yet-seen responses are mirrored to the configured collector while
they stream; every admitted transaction produces a metadata report.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
