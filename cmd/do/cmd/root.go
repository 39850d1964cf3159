package cmd

import "github.com/spf13/cobra"

// Root is the maintenance CLI: schema migrations and one-off expiry sweeps
// against the store configured for the server.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:          "do",
		Short:        "Maintenance tools for onetimeview",
		SilenceUsage: true,
	}

	root.AddCommand(MigrateCmd())
	root.AddCommand(SweepCmd())
	return root
}
