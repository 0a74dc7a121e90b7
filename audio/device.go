package audio

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned when the picker is dismissed with Ctrl+C or q.
var ErrSelectionCancelled = errors.New("audio: device selection cancelled")

// FindDevice returns the first capture device whose name contains name,
// ignoring case.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device matching %q", ErrNoDevice, name)
}

// SelectDevice lets the user pick a microphone with the arrow keys.
// With a single device it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("마이크를 선택하세요 (↑/↓, Enter):\r\n\r\n")
		for i, d := range devices {
			tag := ""
			if IsBluetooth(d.Name) {
				tag = " \x1b[33m[블루투스: 음질 저하]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
			} else {
				fmt.Printf("    %s%s\r\n", d.Name, tag)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch {
		case n == 1 && buf[0] == 13:
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case n == 1 && (buf[0] == 3 || buf[0] == 'q'):
			fmt.Print("\r\n")
			return nil, ErrSelectionCancelled
		case n == 1 && buf[0] == 'j', n == 3 && buf[0] == 0x1b && buf[2] == 'B':
			cursor = min(cursor+1, len(devices)-1)
		case n == 1 && buf[0] == 'k', n == 3 && buf[0] == 0x1b && buf[2] == 'A':
			cursor = max(cursor-1, 0)
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		render()
	}
}
