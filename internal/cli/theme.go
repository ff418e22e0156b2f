package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	deepSkyBlue  = lipgloss.Color("#00BFFF")
	lightSkyBlue = lipgloss.Color("#B0E0E6")
	darkSkyBlue  = lipgloss.Color("#4A90D9")
	white        = lipgloss.Color("#FFFFFF")
	lightGray    = lipgloss.Color("#B0B0B0")

	success = lipgloss.Color("#00FF88")
	warning = lipgloss.Color("#FFD700")
	failure = lipgloss.Color("#FF6B6B")

	titleStyle = lipgloss.NewStyle().
			Foreground(white).
			Background(darkSkyBlue).
			Bold(true).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lightSkyBlue).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(white).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(success).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(failure).
			Bold(true)

	accentStyle = lipgloss.NewStyle().
			Foreground(deepSkyBlue)

	dimStyle = lipgloss.NewStyle().
			Foreground(lightGray)
)

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, styled: styled}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) title(text string) {
	p.printf("%s\n", p.render(titleStyle, text))
}

func (p *printer) row(label, value string) {
	if p.styled {
		p.printf("  %s%s\n", labelStyle.Render(label), valueStyle.Render(value))
		return
	}
	p.printf("  %-14s%s\n", label, value)
}
