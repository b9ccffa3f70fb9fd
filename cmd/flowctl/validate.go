package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/spf13/cobra"
)

// errInvalidFlow is returned after the problems of a document have been printed.
var errInvalidFlow = errors.New("flow definition is invalid")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check flow documents for schema and graph problems",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, path := range args {
				def, err := loadFlow(path)
				if err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n", path)
					if ve, ok := models.AsValidationError(err); ok {
						for _, msg := range ve.Messages() {
							fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", msg)
						}
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "  - %v\n", err)
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (start %s, %d nodes)\n", path, def.Start, len(def.Nodes))
			}
			if failed {
				return errInvalidFlow
			}
			return nil
		},
	}
}

// loadFlow reads and validates a flow document.
func loadFlow(path string) (*models.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return models.ParseFlowDocument(data)
}
