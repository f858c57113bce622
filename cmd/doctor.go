package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/config"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/ui"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the external toolchains are available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !runDoctor(ui.New(), cfg) {
			return errReported
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor prints one line per check and reports whether all passed.
func runDoctor(printer *ui.Printer, cfg config.Config) bool {
	ok := true
	check := func(name, detail string, err error) {
		printer.Check(name, detail, err)
		if err != nil {
			ok = false
		}
	}

	cargo := toolchain.NewCargo(cfg.CargoPath, os.Stderr, cfg.Verbose)
	version, err := cargo.Validate()
	check("cargo", version, err)

	java := zkc.NewJava(cfg.JavaPath, nil, os.Stderr, cfg.Verbose)
	version, err = java.Validate()
	check("java", version, err)

	check("cache", cfg.CacheDir, checkWritable(cfg.CacheDir))
	return ok
}

// checkWritable creates dir if needed and confirms a file can be created
// in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-")
	if err != nil {
		return fmt.Errorf("cache directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
