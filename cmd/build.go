package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/pbcbuild/internal/build"
	"github.com/papapumpkin/pbcbuild/internal/config"
	"github.com/papapumpkin/pbcbuild/internal/link"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/telemetry"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/ui"
	"github.com/papapumpkin/pbcbuild/internal/watch"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

var buildCmd = &cobra.Command{
	Use:   "build [dir...]",
	Short: "Compile contract packages",
	Long: `Compiles each package to <crate>.wasm. Packages that declare a ZK
computation also produce <crate>.zkbc and the linked <crate>.zkwa.

Outputs go to <pkg>/target/wasm32-unknown-unknown/<debug|release> unless
--out is given. With --workspace each directory is expanded to the
packages it contains.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().Bool("release", false, "build in release mode")
	buildCmd.Flags().StringSlice("features", nil, "features to enable (comma separated)")
	buildCmd.Flags().Bool("no-default-features", false, "do not enable the default feature")
	buildCmd.Flags().Bool("workspace", false, "build every package under the given directories")
	buildCmd.Flags().IntP("jobs", "j", 0, "packages to build concurrently (default: number of CPUs)")
	buildCmd.Flags().String("out", "", "output directory")
	buildCmd.Flags().String("compression", "", "linked package section compression: none or zstd")
	buildCmd.Flags().Bool("dry-run", false, "print the build plan without running it")
	buildCmd.Flags().BoolP("watch", "w", false, "rebuild packages when their sources change")
	_ = viper.BindPFlag("jobs", buildCmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("compression", buildCmd.Flags().Lookup("compression"))
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	release, _ := cmd.Flags().GetBool("release")
	feats, _ := cmd.Flags().GetStringSlice("features")
	noDefault, _ := cmd.Flags().GetBool("no-default-features")
	workspace, _ := cmd.Flags().GetBool("workspace")
	outDir, _ := cmd.Flags().GetString("out")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	watchMode, _ := cmd.Flags().GetBool("watch")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dirs, err := resolvePackages(args, workspace)
	if err != nil {
		return err
	}

	printer := ui.New()
	if dryRun {
		return printPlans(ui.NewWriter(cmd.OutOrStdout()), printer, dirs)
	}

	em, err := openTelemetry(cfg)
	if err != nil {
		return err
	}
	defer em.Close()

	builder, err := newBuilder(cfg, printer, em)
	if err != nil {
		return err
	}
	opts := build.Options{
		Mode:              toolchain.ParseMode(release),
		Features:          feats,
		NoDefaultFeatures: noDefault,
		OutDir:            outDir,
		Jobs:              cfg.Jobs,
	}

	ctx := cmd.Context()
	results := builder.BuildAll(ctx, dirs, opts)
	reportResults(printer, results)

	if watchMode {
		return watchAndRebuild(ctx, printer, builder, dirs, opts)
	}
	if len(build.Failed(results)) > 0 {
		return errReported
	}
	return nil
}

// newBuilder wires the configured compilers into a Builder.
func newBuilder(cfg config.Config, printer *ui.Printer, em *telemetry.Emitter) (*build.Builder, error) {
	compression, err := link.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	cargo := toolchain.NewCargo(cfg.CargoPath, os.Stderr, cfg.Verbose)
	cargo.Triple = cfg.TargetTriple

	cache := cfg.Cache()
	cache.Telemetry = em
	java := zkc.NewJava(cfg.JavaPath, cache, os.Stderr, cfg.Verbose)

	return build.New(
		build.WithCompiler(cargo),
		build.WithZkCompiler(java),
		build.WithCompression(compression),
		build.WithLogger(os.Stderr, cfg.Verbose),
		build.WithTelemetry(em),
		build.WithProgress(printer.Step),
	), nil
}

// openTelemetry returns nil when no telemetry path is configured.
func openTelemetry(cfg config.Config) (*telemetry.Emitter, error) {
	if cfg.TelemetryPath == "" {
		return nil, nil
	}
	return telemetry.NewEmitter(cfg.TelemetryPath)
}

func reportResults(printer *ui.Printer, results []*build.Result) {
	for _, r := range results {
		printer.BuildResult(r)
	}
	if len(results) > 1 {
		printer.Summary(results)
	}
}

func printPlans(out, errs *ui.Printer, dirs []string) error {
	failed := false
	for _, dir := range dirs {
		m, err := manifest.LoadAndValidate(dir)
		if err != nil {
			errs.ValidateResult(dir, err)
			failed = true
			continue
		}
		plan, err := build.NewPlan(m)
		if err != nil {
			return err
		}
		if err := out.Plan(plan); err != nil {
			return err
		}
	}
	if failed {
		return errReported
	}
	return nil
}

// watchAndRebuild rebuilds each package whose sources change until ctx is
// cancelled.
func watchAndRebuild(ctx context.Context, printer *ui.Printer, builder *build.Builder, dirs []string, opts build.Options) error {
	w, err := watch.New(dirs)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	printer.Info(fmt.Sprintf("watching %d package(s) for changes, press Ctrl-C to stop", len(dirs)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-w.Changes:
			if !ok {
				return nil
			}
			printer.Info(fmt.Sprintf("%s: %d file(s) changed", change.Package, len(change.Files)))
			res, _ := builder.Build(ctx, change.Package, opts)
			printer.BuildResult(res)
		}
	}
}
