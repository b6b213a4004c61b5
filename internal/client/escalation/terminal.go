package escalation

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 2).
			Width(60)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	countdownStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
)

// TerminalSurface renders requests as a bordered box on a terminal.
type TerminalSurface struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminalSurface(w io.Writer) *TerminalSurface {
	return &TerminalSurface{w: w}
}

func (s *TerminalSurface) Mount(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, Render(v))
}

func (s *TerminalSurface) Update(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, renderStatus(v))
}

func (s *TerminalSurface) Unmount() {}

// Render draws the full request box.
func Render(v View) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Session error"))
	b.WriteString("\n\n")
	b.WriteString(v.Message)
	if v.Reason != "" {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("reason: " + v.Reason))
	}
	b.WriteString("\n\n")
	b.WriteString(renderStatus(v))

	var actions []string
	if v.Retryable {
		actions = append(actions, "'retry' to try again")
	}
	actions = append(actions, "'ok' to sign in again")
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("Type " + strings.Join(actions, ", ")))

	return boxStyle.Render(b.String())
}

func renderStatus(v View) string {
	switch {
	case v.Retrying:
		return hintStyle.Render("Retrying...")
	case v.Remaining > 0:
		return countdownStyle.Render(fmt.Sprintf("Redirecting to login in %ds", v.Remaining))
	default:
		return hintStyle.Render("Waiting for your action")
	}
}
