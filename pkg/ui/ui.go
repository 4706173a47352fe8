// Package ui holds the terminal-facing pieces: a spinner that doubles
// as the git progress sink, and the confirmation prompt used by
// destructive commands.
package ui

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
)

// Spinner wraps a pterm spinner. When stdout is not a terminal the
// spinner stays silent and only final messages are printed.
type Spinner struct {
	printer *pterm.SpinnerPrinter
	enabled bool
}

// NewSpinner starts a spinner with the given text.
func NewSpinner(text string) *Spinner {
	s := &Spinner{enabled: isatty.IsTerminal(os.Stdout.Fd())}
	if !s.enabled {
		return s
	}
	printer, err := pterm.DefaultSpinner.WithRemoveWhenDone(false).Start(text)
	if err != nil {
		s.enabled = false
		return s
	}
	s.printer = printer
	return s
}

// UpdateText replaces the spinner's text.
func (s *Spinner) UpdateText(text string) {
	if s.enabled && s.printer != nil {
		s.printer.UpdateText(text)
	}
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(message string) {
	if s.enabled && s.printer != nil {
		s.printer.Success(message)
		return
	}
	fmt.Println(message)
}

// Warn stops the spinner with a warning message.
func (s *Spinner) Warn(message string) {
	if s.enabled && s.printer != nil {
		s.printer.Warning(message)
		return
	}
	fmt.Println(message)
}

// Fail stops the spinner with a failure message.
func (s *Spinner) Fail(message string) {
	if s.enabled && s.printer != nil {
		s.printer.Fail(message)
		return
	}
	fmt.Fprintln(os.Stderr, message)
}

// Stop clears the spinner without a final message.
func (s *Spinner) Stop() {
	if s.enabled && s.printer != nil {
		_ = s.printer.Stop()
	}
}

// TransferProgress implements git.ProgressSink.
func (s *Spinner) TransferProgress(message string) {
	s.UpdateText(message)
}

// PushProgress implements git.ProgressSink.
func (s *Spinner) PushProgress(message string) {
	s.UpdateText(message)
}

// RefUpdate implements git.ProgressSink.
func (s *Spinner) RefUpdate(ref, status string) {
	s.UpdateText(fmt.Sprintf("%s: %s", ref, status))
}

// Confirmer asks the user a yes/no question. Commands take the
// interface so --no-confirm and tests can bypass the terminal.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// TerminalConfirmer prompts interactively with pterm.
type TerminalConfirmer struct{}

// Confirm shows the prompt and returns the user's answer; declining is
// the default.
func (TerminalConfirmer) Confirm(prompt string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.
		WithDefaultValue(false).
		WithDefaultText(prompt).
		Show()
}

// AutoConfirmer answers yes without prompting (--no-confirm).
type AutoConfirmer struct{}

func (AutoConfirmer) Confirm(string) (bool, error) {
	return true, nil
}
