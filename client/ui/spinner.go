package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Spinner animates a message while something runs. Off a terminal, only the
// final message is printed.
type Spinner struct {
	spinner *spinner.Spinner
	out     io.Writer
	msg     string
}

// NewSpinner creates and starts a spinner with the given message on stderr.
func NewSpinner(msg string) *Spinner {
	return newSpinner(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), msg)
}

func newSpinner(out io.Writer, animated bool, msg string) *Spinner {
	s := &Spinner{out: out, msg: msg}
	if animated {
		s.spinner = spinner.New(
			spinner.CharSets[14],
			200*time.Millisecond,
			spinner.WithHiddenCursor(true),
			spinner.WithWriter(out),
			spinner.WithSuffix(" "+msg),
		)
		s.spinner.Start()
	}
	return s
}

// UpdateMessage updates the spinner message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) UpdateMessage(msg string) {
	if s == nil {
		return
	}
	if s.spinner != nil {
		s.spinner.Suffix = " " + msg
	}
	s.msg = msg
}

// Success stops the spinner and prints a success message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Success(msg ...string) {
	s.finish(color.HiGreenString("✓"), msg)
}

// Warn stops the spinner and prints a warning message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Warn(msg ...string) {
	s.finish(color.HiYellowString("!"), msg)
}

// Fail stops the spinner and prints a failure message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Fail(msg ...string) {
	s.finish(color.HiRedString("✗"), msg)
}

func (s *Spinner) finish(mark string, msg []string) {
	if s == nil {
		return
	}
	if len(msg) == 0 {
		msg = []string{s.msg}
	}

	line := fmt.Sprintf("%s %s\n", mark, msg[0])
	if s.spinner == nil {
		fmt.Fprint(s.out, line)
		return
	}
	s.spinner.FinalMSG = line
	s.spinner.Stop()
}
