package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/amplitude-cohorts/pkg/cohorts"
)

// errUnknownState is returned when a read could not determine the remote state.
var errUnknownState = errors.New("could not determine cohort state; see logs with --verbose")

func getCommand(rt *runtime) *cobra.Command {
	var includeProps bool
	var propKeys []string

	cmd := &cobra.Command{
		Use:   "get <cohort-id>",
		Short: "Fetch a discoverable cohort by id",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			opts := cohorts.FetchOptions{IncludeProperties: includeProps}
			if len(propKeys) > 0 {
				opts.PropertyKeys = append([]string(nil), propKeys...)
			}

			cohort, ok, err := rt.app.Get(cmd.Context(), rt.project, args[0], opts)
			if err != nil {
				return err
			}
			if !ok {
				return errUnknownState
			}
			return writeJSON(cmd.OutOrStdout(), cohort)
		}),
	}

	cmd.Flags().BoolVar(&includeProps, "props", false, "Include user properties in the response")
	cmd.Flags().StringSliceVar(&propKeys, "prop-key", nil, "User property to include (repeatable; requires --props)")
	return cmd
}
