package session

import (
	"errors"
	"time"
)

type State int

const (
	Idle State = iota
	Recording
	Transcribing
	AwaitingReply
	Speaking
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	case Error:
		return "error"
	}
	return "unknown"
}

var (
	ErrDeviceUnavailable   = errors.New("session: microphone unavailable")
	ErrTranscriptionFailed = errors.New("session: transcription failed")
	ErrBusy                = errors.New("session: a turn is already in progress")
	ErrBlankText           = errors.New("session: text is blank")
	ErrClosed              = errors.New("session: closed")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the transcript. Turns are never modified after
// they are appended.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Snapshot is a consistent copy of the observable session state.
type Snapshot struct {
	State State
	// Err and Message are set while State is Error.
	Err      error
	Message  string
	Turns    int
	Draft    string
	Recorded time.Duration // length of the recording in progress
	Level    float64       // microphone RMS in [0,1] while recording
}

func (s Snapshot) IsRecording() bool { return s.State == Recording }

func (s Snapshot) IsProcessing() bool {
	return s.State == Transcribing || s.State == AwaitingReply
}

func (s Snapshot) IsSpeaking() bool { return s.State == Speaking }

// Busy reports whether a new turn would be refused.
func (s Snapshot) Busy() bool { return s.State != Idle && s.State != Error }

type EventKind int

const (
	StateChanged EventKind = iota
	TurnAppended
	Failed
	LevelChanged
	SilenceWarning
	SilenceCleared
)

// Event is delivered to the Observer after every change.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Turn     *Turn // set for TurnAppended
}

// Observer receives events on the controller goroutine, in order. It must
// not block and must not call back into the Controller synchronously.
type Observer interface {
	SessionEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) SessionEvent(e Event) { f(e) }
