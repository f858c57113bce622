// Package ui renders human-readable build output on stderr.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/pbcbuild/internal/build"
	"github.com/papapumpkin/pbcbuild/internal/link"
	"github.com/papapumpkin/pbcbuild/internal/telemetry"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan: headings
	colorAccent  = lipgloss.Color("#FFD700") // Gold: warnings
	colorSuccess = lipgloss.Color("#00E676") // Green: completed
	colorDanger  = lipgloss.Color("#FF5252") // Red: failures
	colorMuted   = lipgloss.Color("#8C8C8C") // Gray: details
	colorBlue    = lipgloss.Color("#5B8DEF") // Blue: running
)

// Status icons.
const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconWorking = "◎"
	iconWarn    = "!"
)

// Printer writes styled output. Colors are dropped automatically when the
// destination is not a terminal. Each call is one serialized write.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	heading lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	running lipgloss.Style
	bold    lipgloss.Style
}

// New returns a Printer on os.Stderr.
func New() *Printer {
	return NewWriter(os.Stderr)
}

// NewWriter returns a Printer on w.
func NewWriter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		heading: r.NewStyle().Foreground(colorPrimary).Bold(true),
		ok:      r.NewStyle().Foreground(colorSuccess).Bold(true),
		fail:    r.NewStyle().Foreground(colorDanger).Bold(true),
		warn:    r.NewStyle().Foreground(colorAccent).Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		running: r.NewStyle().Foreground(colorBlue),
		bold:    r.NewStyle().Bold(true),
	}
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	p.printf("%s %s\n", p.fail.Render("error:"), msg)
}

// Info prints a de-emphasized line.
func (p *Printer) Info(msg string) {
	p.printf("%s\n", p.muted.Render(msg))
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	p.printf("%s %s\n", p.warn.Render(iconWarn), msg)
}

// Step prints a step transition. It is safe to pass as a
// build.ProgressFunc.
func (p *Printer) Step(e build.StepEvent) {
	switch {
	case !e.Done:
		p.printf("  %s %s %s\n", p.running.Render(iconWorking), e.Package, p.muted.Render(string(e.Step)))
	case e.Err != nil:
		p.printf("  %s %s %s\n", p.fail.Render(iconFailed), e.Package, p.muted.Render(string(e.Step)))
	default:
		p.printf("  %s %s %s %s\n", p.ok.Render(iconDone), e.Package, string(e.Step),
			p.muted.Render("("+formatDuration(e.Duration)+")"))
	}
}

// BuildResult prints the outcome of one package build.
func (p *Printer) BuildResult(r *build.Result) {
	if r.Err != nil {
		p.printf("%s %s\n%s\n", p.fail.Render(iconFailed+" "+r.Package), p.muted.Render("failed"), indent(r.Err.Error()))
		return
	}
	p.printf("%s %s\n", p.ok.Render(iconDone+" "+r.Package),
		p.muted.Render("built in "+formatDuration(r.Duration)))
	for _, out := range r.Outputs {
		p.printf("    %s\n", out)
	}
}

// Summary prints the totals of a multi-package session.
func (p *Printer) Summary(results []*build.Result) {
	failed := len(build.Failed(results))
	built := len(results) - failed
	if failed == 0 {
		p.printf("\n%s\n", p.ok.Render(fmt.Sprintf("%d package(s) built", built)))
		return
	}
	p.printf("\n%s, %s\n", p.ok.Render(fmt.Sprintf("%d built", built)),
		p.fail.Render(fmt.Sprintf("%d failed", failed)))
}

// ValidateResult prints the outcome of validating one package.
func (p *Printer) ValidateResult(dir string, err error) {
	if err == nil {
		p.printf("%s %s\n", p.ok.Render(iconDone), dir)
		return
	}
	p.printf("%s %s\n%s\n", p.fail.Render(iconFailed), dir, indent(err.Error()))
}

// Plan prints a build plan.
func (p *Printer) Plan(plan *build.Plan) error {
	var sb strings.Builder
	if err := plan.Render(&sb); err != nil {
		return err
	}
	head, rest, _ := strings.Cut(sb.String(), "\n")
	p.printf("%s\n%s", p.heading.Render(head), rest)
	return nil
}

// LinkedPackage prints the header of a linked package.
func (p *Printer) LinkedPackage(path string, h link.Header) {
	p.printf("%s %s\n", p.heading.Render(path), p.muted.Render("package "+h.Package))
	for _, s := range h.Sections {
		digest := fmt.Sprintf("%x", s.Digest)
		if len(digest) > 16 {
			digest = digest[:16]
		}
		p.printf("  %-9s %-5s %8d bytes  stored %8d (%s)  blake3 %s\n",
			s.Name, s.Kind, s.Size, s.Length, s.Compression, digest)
	}
}

// CacheEntries prints the compiler cache listing.
func (p *Printer) CacheEntries(dir string, entries []zkc.Entry) {
	p.printf("%s\n", p.heading.Render(dir))
	if len(entries) == 0 {
		p.printf("  %s\n", p.muted.Render("(empty)"))
		return
	}
	for _, e := range entries {
		p.printf("  %-24s %10d bytes  %s\n", e.Key, e.Size, p.muted.Render(e.ModTime.Format(time.DateTime)))
	}
}

// CacheVerify prints verification results and reports whether all passed.
func (p *Printer) CacheVerify(results []zkc.VerifyResult) bool {
	okAll := true
	for _, r := range results {
		if r.Err != nil {
			okAll = false
			p.printf("  %s %s\n%s\n", p.fail.Render(iconFailed), r.Entry.Key, indent(r.Err.Error()))
			continue
		}
		p.printf("  %s %s\n", p.ok.Render(iconDone), r.Entry.Key)
	}
	return okAll
}

// Check prints one environment check.
func (p *Printer) Check(name, detail string, err error) {
	if err != nil {
		p.printf("  %s %-8s %s\n", p.fail.Render(iconFailed), name, err)
		return
	}
	p.printf("  %s %-8s %s\n", p.ok.Render(iconDone), name, p.muted.Render(detail))
}

// Event prints one telemetry event as a single line.
func (p *Printer) Event(e telemetry.Event) {
	ts := e.Timestamp.Local().Format("15:04:05.000")
	subject := e.Package
	if e.Step != "" {
		subject += " " + e.Step
	}
	kind := p.bold.Render(fmt.Sprintf("%-11s", e.Kind))
	if strings.HasSuffix(e.Kind, "_done") {
		if m, ok := e.Data.(map[string]any); ok && m["error"] != nil {
			kind = p.fail.Render(fmt.Sprintf("%-11s", e.Kind))
		}
	}
	line := fmt.Sprintf("%s %s %s", p.muted.Render(ts), kind, subject)
	if e.Data != nil {
		line += " " + p.muted.Render(formatData(e.Data))
	}
	p.printf("%s\n", strings.TrimRight(line, " "))
}

// formatData renders event data as key=value pairs sorted by key.
func formatData(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		b, _ := json.Marshal(data)
		return string(b)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
