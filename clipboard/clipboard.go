// Package clipboard copies assistant replies to the system clipboard so a
// caregiver can paste them into a message or a form.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("clipboard: no clipboard utility available")

// Available reports whether copy and paste can work on this system. On Linux
// it needs xclip, xsel or wl-clipboard.
func Available() bool { return !cb.Unsupported }

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

// Copy replaces the clipboard contents with text, trimming trailing blank
// lines.
func Copy(text string) error {
	if !Available() {
		return ErrUnavailable
	}
	return cb.WriteAll(strings.TrimRight(text, "\r\n"))
}
