// Command flowctl validates LeadPipe flow documents and simulates conversations against them
// without a WhatsApp connection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "flowctl checks and rehearses LeadPipe conversation flows",
		Long:          `flowctl validates YAML or JSON flow documents and plays a conversation against them in memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newSimulateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
