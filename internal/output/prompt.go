package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by Confirm when stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal; pass --yes to approve")

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Confirm asks a yes/no question. Ctrl+C and "n" both answer false.
func Confirm(label string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}
	return confirm(label, nil, nil)
}

func confirm(label string, in io.ReadCloser, out io.WriteCloser) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     in,
		Stdout:    out,
	}
	_, err := prompt.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort), errors.Is(err, promptui.ErrInterrupt):
		return false, nil
	default:
		return false, fmt.Errorf("prompt: %w", err)
	}
}

// SigningPrompt formats the approval question shown before signing.
func SigningPrompt(txType string, details map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sign %s transaction", txType)
	for _, k := range sortedKeys(details) {
		fmt.Fprintf(&sb, " %s=%s", k, details[k])
	}
	return sb.String()
}
