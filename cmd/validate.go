package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir...]",
	Short: "Check package manifests and feature selections without compiling",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringSlice("features", nil, "features to check (comma separated)")
	validateCmd.Flags().Bool("no-default-features", false, "do not enable the default feature")
	validateCmd.Flags().Bool("workspace", false, "validate every package under the given directories")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	feats, _ := cmd.Flags().GetStringSlice("features")
	noDefault, _ := cmd.Flags().GetBool("no-default-features")
	workspace, _ := cmd.Flags().GetBool("workspace")

	dirs, err := resolvePackages(args, workspace)
	if err != nil {
		return err
	}
	printer := ui.New()
	ok := true
	for _, dir := range dirs {
		label, err := validatePackage(dir, feats, noDefault)
		printer.ValidateResult(label, err)
		if err != nil {
			ok = false
		}
	}
	if !ok {
		return errReported
	}
	return nil
}

// validatePackage loads the manifest and resolves the requested features.
// The returned label names the package and its resolved features.
func validatePackage(dir string, feats []string, noDefault bool) (string, error) {
	m, err := manifest.LoadAndValidate(dir)
	if err != nil {
		return dir, err
	}
	set, err := toolchain.Resolve(toolchain.Target{Manifest: m, Features: feats, NoDefaultFeatures: noDefault})
	if err != nil {
		return m.Package.Name, err
	}
	label := m.Package.Name
	if m.HasZk() {
		label += " (zk)"
	}
	if len(set.Features) > 0 {
		label += fmt.Sprintf(" [%s]", strings.Join(set.Features, ", "))
	}
	return label, nil
}
