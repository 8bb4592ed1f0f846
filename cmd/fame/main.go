// Command fame is the orchestration core's CLI: it starts the central
// HTTP surface, runs a worker against one or more queues, and gives
// operators a way to inspect the module catalog and analysis state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "fame",
		Short:   "fame -- malware analysis orchestration core",
		Version: version,
	}

	root.PersistentFlags().String("config", "", "path to a fame.yaml config file (searched in . and /etc/fame otherwise)")

	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(modulesCmd())
	root.AddCommand(analysesCmd())
	root.AddCommand(configCmdGroup())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
