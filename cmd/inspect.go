package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/link"
	"github.com/papapumpkin/pbcbuild/internal/ui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the sections of a linked package",
	Long: `Prints the header of a .zkwa linked package and verifies every section
digest. With --extract the sections are written to a directory as
<package>.wasm, <package>.zkbc and <package>.abi.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().String("extract", "", "write verified sections to this directory")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	extractDir, _ := cmd.Flags().GetString("extract")
	return inspectFile(cmd.OutOrStdout(), args[0], extractDir)
}

func inspectFile(w io.Writer, path, extractDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	printer := ui.NewWriter(w)
	if !link.IsLinked(data) {
		if artifact.IsWasm(data) {
			printer.Info(fmt.Sprintf("%s: contract module, %d bytes, blake3 %s", path, len(data), artifact.Sum(data)))
			return nil
		}
		return fmt.Errorf("inspect: %s is neither a linked package nor a contract module", path)
	}

	header, _, err := link.ReadHeader(data)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	printer.LinkedPackage(path, header)

	sections, err := link.Extract(data)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	if extractDir == "" {
		return nil
	}
	files := make([]artifact.File, 0, len(sections))
	for _, s := range sections {
		files = append(files, artifact.File{Name: header.Package + "." + string(s.Kind), Data: s.Data})
	}
	written, err := artifact.WriteAll(extractDir, files)
	if err != nil {
		return fmt.Errorf("inspect: extract: %w", err)
	}
	for _, p := range written {
		printer.Info("extracted " + filepath.Base(p))
	}
	return nil
}
