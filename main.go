package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

var rootCmd = &cobra.Command{
	Use:   "primeworks",
	Short: "Cancellable prime generation service",
	Long: `primeworks computes every prime up to a bound with a chunked sieve that
can be cancelled between chunks. It runs as an HTTP and WebSocket server or
computes locally from the command line.`,
	SilenceUsage: true,
}

func main() {
	defer log.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
