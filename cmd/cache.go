package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the ZK compiler bundle cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached compiler bundles, newest version first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := cfg.Cache().List()
		if err != nil {
			return err
		}
		ui.NewWriter(cmd.OutOrStdout()).CacheEntries(cfg.CacheDir, entries)
		return nil
	},
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every cached bundle against its recorded digest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		results, err := cfg.Cache().Verify()
		if err != nil {
			return err
		}
		printer := ui.NewWriter(cmd.OutOrStdout())
		if len(results) == 0 {
			printer.Info("no cached bundles")
			return nil
		}
		if !printer.CacheVerify(results) {
			return errReported
		}
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every cached bundle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		n, err := cfg.Cache().Clean()
		if err != nil {
			return err
		}
		ui.NewWriter(cmd.OutOrStdout()).Info(fmt.Sprintf("removed %d bundle(s) from %s", n, cfg.CacheDir))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheVerifyCmd, cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
