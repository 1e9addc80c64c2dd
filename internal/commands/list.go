package commands

import (
	"github.com/spf13/cobra"
)

func listCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all cohorts of the project",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			list, ok, err := rt.app.List(cmd.Context(), rt.project)
			if err != nil {
				return err
			}
			if !ok {
				return errUnknownState
			}
			return writeJSON(cmd.OutOrStdout(), list)
		}),
	}
}
