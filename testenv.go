package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"carebridge/audio"
	"carebridge/log"
	"carebridge/session"
	"carebridge/settings"
	"carebridge/welfare"
)

const waitLimit = 2 * time.Minute

// runTestMode drives a controller from line commands on in, with the WAV
// file in args (if any) as the microphone signal. Every session event is
// printed to out as one line.
func runTestMode(ctx context.Context, a *app, args []string, in io.Reader, out io.Writer) int {
	var mic *audio.FakeContext
	if len(args) > 0 {
		var err error
		if mic, err = audio.NewFakeContext(args[0], true); err != nil {
			fmt.Fprintf(out, "error loading WAV: %v\n", err)
			return 1
		}
	} else {
		mic = audio.NewFakeContextPCM(nil, true)
	}

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		fmt.Fprintf(out, format, args...)
		outMu.Unlock()
	}

	events := newEventQueue()
	drained := make(chan struct{})
	go func() {
		events.run(func(e session.Event) {
			if line := eventLine(e); line != "" {
				printf("%s\n", line)
			}
		})
		close(drained)
	}()

	ctrl, err := a.newController(mic, nil, audio.NewSpeaker(mic), nil, events)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return 1
	}
	defer func() {
		ctrl.Close()
		events.close()
		<-drained
	}()
	ctrl.Greet()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return 0
		case line, ok = <-lines:
			if !ok {
				return 0
			}
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "":
		case "START":
			report(printf, ctrl.Start())
		case "STOP":
			report(printf, ctrl.Stop())
		case "SAY":
			report(printf, ctrl.SubmitText(arg))
		case "CANCEL":
			report(printf, ctrl.Cancel())
		case "ACK":
			report(printf, ctrl.Acknowledge())
		case "WAIT":
			if !waitSettled(ctx, ctrl) {
				printf("error wait timed out in %s\n", ctrl.State())
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "SEARCH":
			res := welfare.Search(ctx, a.gw, arg, 5)
			for _, p := range res.Programs {
				printf("program %s %s\n", p.ID, p.Name)
			}
			if res.Local {
				printf("search local\n")
			}
		case "CATEGORIES":
			printf("categories %s\n", strings.Join(welfare.Categories(ctx, a.gw), ","))
		case "VOICE":
			on := strings.EqualFold(arg, "on")
			report(printf, a.prefs.Update(func(p *settings.Preferences) { p.VoiceEnabled = on }))
		case "SAVE":
			report(printf, a.prefs.Save(ctx))
		case "QUIT":
			return 0
		default:
			log.Warnf("test mode: unknown command %q", line)
			printf("error unknown command %q\n", cmd)
		}
	}
}

func report(printf func(string, ...any), err error) {
	if err != nil {
		printf("refused %v\n", err)
	}
}

// waitSettled blocks until the current turn has finished.
func waitSettled(ctx context.Context, ctrl *session.Controller) bool {
	deadline := time.Now().Add(waitLimit)
	for ctrl.Snapshot().Busy() {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

func eventLine(e session.Event) string {
	switch e.Kind {
	case session.StateChanged:
		return "state " + e.Snapshot.State.String()
	case session.TurnAppended:
		return fmt.Sprintf("turn %s %s", e.Turn.Role, e.Turn.Text)
	case session.Failed:
		return "error " + e.Snapshot.Message
	case session.SilenceWarning:
		return "warning silence"
	case session.SilenceCleared:
		return "warning cleared"
	}
	return ""
}
