package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirmer answers yes/no questions posed to the operator before an
// action that can destroy existing data.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// AutoConfirm answers yes to every question. Used for unattended runs.
type AutoConfirm struct{}

// Confirm implements Confirmer.
func (AutoConfirm) Confirm(string) (bool, error) { return true, nil }

// TerminalConfirm prompts the operator on the given streams. Only an
// explicit yes proceeds.
type TerminalConfirm struct {
	In  io.Reader
	Out io.Writer
}

// Confirm implements Confirmer.
func (c TerminalConfirm) Confirm(question string) (bool, error) {
	if _, err := fmt.Fprintf(c.Out, "%s [y/N]: ", question); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
