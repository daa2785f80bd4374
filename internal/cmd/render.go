package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/hostbind/internal/config"
	"github.com/Iron-Ham/hostbind/internal/scenario"
	"github.com/Iron-Ham/hostbind/internal/stress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

// Colors - shared with the rest of the CLI output
var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

const defaultWidth = 50

// printer writes command output, styled when it goes to a color terminal.
type printer struct {
	w      io.Writer
	styled bool
	width  int

	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
}

func newPrinter(w io.Writer, cfg *config.Config) *printer {
	p := &printer{w: w, width: defaultWidth}

	fd, isTTY := terminalFd(w)
	p.styled = cfg.Output.Color && isTTY
	switch {
	case cfg.Output.Width > 0:
		p.width = cfg.Output.Width
	case isTTY:
		if cols, _, err := term.GetSize(fd); err == nil && cols > 0 && cols < defaultWidth {
			p.width = cols
		}
	}

	r := lipgloss.NewRenderer(w)
	p.title = r.NewStyle().Bold(true).Foreground(primaryColor)
	p.ok = r.NewStyle().Foreground(successColor)
	p.warn = r.NewStyle().Foreground(warningColor)
	p.fail = r.NewStyle().Bold(true).Foreground(errorColor)
	p.muted = r.NewStyle().Foreground(mutedColor)
	return p
}

func terminalFd(w io.Writer) (uintptr, bool) {
	f, ok := w.(*os.File)
	if !ok {
		return 0, false
	}
	fd := f.Fd()
	return fd, term.IsTerminal(fd)
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

func (p *printer) header(title string) {
	p.println()
	p.println(p.render(p.title, strings.ToUpper(title)))
	p.println(p.render(p.muted, strings.Repeat("─", p.width)))
}

func (p *printer) outcome(o scenario.Outcome) string {
	label := fmt.Sprintf("%-14s", o)
	switch o {
	case scenario.OutcomeOK:
		return p.render(p.ok, label)
	case scenario.OutcomeExpectedError:
		return p.render(p.warn, label)
	case scenario.OutcomeFailed:
		return p.render(p.fail, label)
	default:
		return p.render(p.muted, label)
	}
}

func (p *printer) verdict(ok bool) string {
	if ok {
		return p.render(p.ok, "PASS")
	}
	return p.render(p.fail, "FAIL")
}

// printReport renders a scenario report. Errors of expected failures are
// only shown when verbose is set.
func (p *printer) printReport(r *scenario.Report, verbose bool) {
	p.header("scenario: " + r.Name)
	p.printf("Policy: %s\n\n", r.Policy)

	for _, s := range r.Steps {
		thread := ""
		if s.Thread > 1 {
			thread = fmt.Sprintf(" @%d", s.Thread)
		}
		p.printf("%3d  %s %-16s %s%s\n", s.Index, p.outcome(s.Outcome), s.Op, s.Target, p.render(p.muted, thread))
		if s.Err != "" && (s.Outcome == scenario.OutcomeFailed || verbose) {
			label := ""
			if s.Severity != "" {
				label = "[" + s.Severity + "] "
			}
			if s.Fatal {
				label += "fatal "
			}
			p.printf("       %s\n", p.render(p.muted, label+s.Err))
		}
	}

	p.println()
	p.printf("Objects: %d created, %d destroyed, %d torn down at shutdown\n",
		r.Host.Created, r.Host.Destroyed, r.Shutdown)
	p.printf("Storage: %d constructed, %d destroyed, %d leaked\n",
		r.Runtime.Constructed, r.Runtime.Destroyed, r.Runtime.Leaked)
	if len(r.Events) > 0 {
		types := make([]string, 0, len(r.Events))
		for t := range r.Events {
			types = append(types, t)
		}
		sort.Strings(types)
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("%s=%d", t, r.Events[t])
		}
		p.printf("Events:  %s\n", p.render(p.muted, strings.Join(parts, " ")))
	}
	p.printf("Result:  %s (%d of %d steps failed)\n", p.verdict(r.Passed), r.Failed(), len(r.Steps))
}

func (p *printer) printStress(res *stress.Result) {
	p.header("stress")
	p.printf("Workers:    %d\n", res.Workers)
	p.printf("Reads:      %d\n", res.Reads)
	p.printf("Writes:     %d (%d through engine calls)\n", res.Writes, res.Calls)
	p.printf("Waits:      %d\n", res.Waits)
	p.printf("Final x:    %d\n", res.Final)
	p.printf("Elapsed:    %s\n", res.Elapsed.Round(time.Microsecond))
	if res.Canceled {
		p.printf("Status:     %s\n", p.render(p.warn, "canceled"))
	}
	p.printf("Result:     %s\n", p.verdict(res.OK()))
}
