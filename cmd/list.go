package cmd

import (
	"fmt"

	"github.com/signalnine/sirun/internal/config"
	"github.com/spf13/cobra"
)

func newVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants <config>",
		Short: "List the variants declared in a benchmark file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(args[0])
			if err != nil {
				return err
			}
			// expanding validates every variant before anything is listed
			if _, err := file.Expand(config.Overrides{}); err != nil {
				return err
			}
			for _, id := range file.VariantIDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
