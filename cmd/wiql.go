package cmd

import (
	"github.com/spf13/cobra"
)

// wiqlCmd runs an arbitrary WIQL query.
var wiqlCmd = &cobra.Command{
	Use:   "wiql <query>",
	Short: "Run a WIQL query",
	Long: `Run a Work Item Query Language query against the configured project and
print the matching work item references.

Example:
  qadash wiql "SELECT [System.Id] FROM WorkItems WHERE [System.WorkItemType] = 'Bug'" --top 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, err := cmd.Flags().GetInt("top")
		if err != nil {
			return err
		}

		renderer, err := newRenderer(cmd)
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}

		refs, err := client.QueryWorkItemsTop(cmd.Context(), args[0], top)
		if err != nil {
			return err
		}

		return renderer.References(refs)
	},
}

func init() {
	rootCmd.AddCommand(wiqlCmd)
	wiqlCmd.Flags().Int("top", 0, "Maximum number of results (0 means no limit)")
}
