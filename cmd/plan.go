package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan [dir...]",
	Short: "Print the build steps and waves for packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetBool("workspace")
		dirs, err := resolvePackages(args, workspace)
		if err != nil {
			return err
		}
		return printPlans(ui.NewWriter(cmd.OutOrStdout()), ui.New(), dirs)
	},
}

func init() {
	planCmd.Flags().Bool("workspace", false, "plan every package under the given directories")
	rootCmd.AddCommand(planCmd)
}
