package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/pbcbuild/internal/telemetry"
	"github.com/papapumpkin/pbcbuild/internal/ui"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry [file]",
	Short: "View JSONL telemetry events from builds",
	Long: `Reads and formats a JSONL telemetry file written by builds run with
telemetry_path set. Without an argument the configured telemetry_path is read.
With --follow (-f), watches the file for new events (like tail -f).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTelemetry,
}

func init() {
	telemetryCmd.Flags().BoolP("follow", "f", false, "follow the file for new events")
	rootCmd.AddCommand(telemetryCmd)
}

func runTelemetry(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.TelemetryPath
	}
	if path == "" {
		return fmt.Errorf("telemetry: no file given and telemetry_path is not configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	defer f.Close()

	t := &tail{printer: ui.NewWriter(cmd.OutOrStdout()), r: bufio.NewReader(f)}
	if err := t.drain(); err != nil {
		return fmt.Errorf("telemetry: read %s: %w", path, err)
	}
	if !follow {
		t.flush()
		return nil
	}
	return tailFollow(cmd.Context(), t, path)
}

// tail prints events from a growing file. A trailing line without a
// newline is held back until the rest of it arrives.
type tail struct {
	printer *ui.Printer
	r       *bufio.Reader
	partial string
}

// drain prints every complete line available.
func (t *tail) drain() error {
	for {
		line, err := t.r.ReadString('\n')
		if err == io.EOF {
			t.partial += line
			return nil
		}
		if err != nil {
			return err
		}
		line, t.partial = t.partial+line, ""
		if line = strings.TrimSpace(line); line != "" {
			printEvent(t.printer, line)
		}
	}
}

// flush prints a held-back final line.
func (t *tail) flush() {
	if line := strings.TrimSpace(t.partial); line != "" {
		printEvent(t.printer, line)
	}
	t.partial = ""
}

// tailFollow watches the file for new data using fsnotify and prints new
// events until ctx is cancelled.
func tailFollow(ctx context.Context, t *tail, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("telemetry: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("telemetry: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			if err := t.drain(); err != nil {
				return fmt.Errorf("telemetry: read %s: %w", path, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("telemetry: watch %s: %w", path, err)
		}
	}
}

// printEvent decodes a JSONL line and prints a human-readable representation.
func printEvent(printer *ui.Printer, line string) {
	var evt telemetry.Event
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		printer.Warn(line)
		return
	}
	printer.Event(evt)
}
