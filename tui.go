package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"carebridge/audio"
	"carebridge/beep"
	"carebridge/clipboard"
	"carebridge/log"
	"carebridge/session"
	"carebridge/settings"
	"carebridge/welfare"
)

// TUI message types
type sessionMsg session.Event
type actionMsg struct {
	err  error
	note string
}
type searchMsg struct {
	query   string
	result  welfare.Result
	listing []string // set for a category listing
}

type labels struct {
	title       string
	you         string
	assistant   string
	placeholder string
	idle        string
	recording   string
	working     string
	speaking    string
	errorHint   string
	help        string
	copied      string
	nothingCopy string
	saved       string
	voiceOn     string
	voiceOff    string
	empty       string
	results     string
	local       string
	categories  string
}

var allLabels = map[string]labels{
	"ko": {
		title:       "케어브릿지",
		you:         "나",
		assistant:   "도우미",
		placeholder: "메시지를 입력하거나 Ctrl+R로 말씀하세요",
		idle:        "대기 중",
		recording:   "녹음 중",
		working:     "생각하는 중",
		speaking:    "말하는 중 (Esc: 중지)",
		errorHint:   "Enter 키를 누르면 계속합니다",
		help:        "Ctrl+R 녹음  Enter 보내기  Esc 취소  Ctrl+Y 복사  Ctrl+T 음성  Ctrl+F 글자 크기  Ctrl+S 저장  /복지 검색어",
		copied:      "마지막 답변을 복사했어요",
		nothingCopy: "복사할 답변이 없어요",
		saved:       "설정을 저장했어요",
		voiceOn:     "음성 켜짐",
		voiceOff:    "음성 꺼짐",
		empty:       "아직 대화가 없어요",
		results:     "복지 프로그램",
		local:       "(기본 목록)",
		categories:  "분류",
	},
	"en": {
		title:       "CareBridge",
		you:         "You",
		assistant:   "Assistant",
		placeholder: "Type a message or press Ctrl+R to speak",
		idle:        "Ready",
		recording:   "Recording",
		working:     "Thinking",
		speaking:    "Speaking (Esc to stop)",
		errorHint:   "Press Enter to continue",
		help:        "Ctrl+R record  Enter send  Esc cancel  Ctrl+Y copy  Ctrl+T voice  Ctrl+F font  Ctrl+S save  /search query",
		copied:      "Copied the last reply",
		nothingCopy: "No reply to copy yet",
		saved:       "Settings saved",
		voiceOn:     "voice on",
		voiceOff:    "voice off",
		empty:       "No conversation yet",
		results:     "Welfare programs",
		local:       "(built-in list)",
		categories:  "Categories",
	},
}

func labelsFor(locale string) labels {
	if l, ok := allLabels[locale]; ok {
		return l
	}
	return allLabels["ko"]
}

// level meter colours, hot end last
var levelColors = []string{"226", "220", "214", "208", "196", "160"}

type palette struct {
	title, you, assistant, text, dim, err, warn, ok lipgloss.Style

	spacing int // blank lines between entries
}

func newPalette(p settings.Preferences) palette {
	fg := map[bool][]string{
		// you, assistant, text, dim
		false: {"25", "94", "236", "244"},
		true:  {"81", "229", "252", "245"},
	}[p.DarkMode]

	text := lipgloss.NewStyle().Foreground(lipgloss.Color(fg[2]))
	spacing := 0
	switch p.FontSize {
	case settings.FontLarge:
		text = text.Bold(true)
	case settings.FontXLarge:
		text = text.Bold(true)
		spacing = 1
	}
	return palette{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		you:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(fg[0])),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(fg[1])),
		text:      text,
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(fg[3])),
		err:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		ok:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		spacing:   spacing,
	}
}

type entry struct {
	turn   *session.Turn
	search *searchMsg
}

type tuiModel struct {
	ctx   context.Context
	ctrl  *session.Controller
	app   *app
	text  labels
	style palette

	input   textinput.Model
	view    viewport.Model
	spin    spinner.Model
	entries []entry

	snap          session.Snapshot
	silent        bool
	note          string
	noteErr       bool
	deviceLine    string
	width, height int
}

func newTUIModel(ctx context.Context, ctrl *session.Controller, a *app, device *audio.DeviceInfo) tuiModel {
	text := labelsFor(a.cfg.Assistant.Locale)

	in := textinput.New()
	in.Placeholder = text.placeholder
	in.Prompt = "› "
	in.CharLimit = 500
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := tuiModel{
		ctx:        ctx,
		ctrl:       ctrl,
		app:        a,
		text:       text,
		style:      newPalette(a.prefs.Get()),
		input:      in,
		view:       viewport.New(80, 20),
		spin:       sp,
		snap:       ctrl.Snapshot(),
		deviceLine: deviceLineText(device),
	}
	m.refresh()
	return m
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

// act runs a controller call off the UI goroutine.
func act(fn func() error) tea.Cmd {
	return func() tea.Msg { return actionMsg{err: fn()} }
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case sessionMsg:
		m.snap = msg.Snapshot
		switch msg.Kind {
		case session.TurnAppended:
			m.entries = append(m.entries, entry{turn: msg.Turn})
			m.refresh()
		case session.SilenceWarning:
			m.silent = true
		case session.SilenceCleared:
			m.silent = false
		case session.StateChanged:
			if !m.snap.IsRecording() {
				m.silent = false
			}
		}
		return m, nil

	case searchMsg:
		m.entries = append(m.entries, entry{search: &msg})
		m.refresh()
		return m, nil

	case actionMsg:
		m.note, m.noteErr = msg.note, false
		if msg.err != nil && !errors.Is(msg.err, session.ErrClosed) {
			m.note, m.noteErr = msg.err.Error(), true
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *tuiModel) handleKey(k tea.KeyMsg) (tea.Cmd, bool) {
	ctrl := m.ctrl
	switch k.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "ctrl+r":
		m.note = ""
		if m.snap.IsRecording() {
			return act(ctrl.Stop), true
		}
		return act(ctrl.Start), true

	case "esc":
		return act(ctrl.Cancel), true

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			if m.snap.State == session.Error {
				return act(ctrl.Acknowledge), true
			}
			return nil, true
		}
		if cmd := m.command(value); cmd != nil {
			m.input.Reset()
			return cmd, true
		}
		if m.snap.Busy() {
			return func() tea.Msg { return actionMsg{err: session.ErrBusy} }, true
		}
		m.input.Reset()
		m.note = ""
		return act(func() error {
			if err := ctrl.SetDraft(value); err != nil {
				return err
			}
			return ctrl.SubmitDraft()
		}), true

	case "ctrl+y":
		reply := ""
		for _, t := range ctrl.Transcript() {
			if t.Role == session.RoleAssistant {
				reply = t.Text
			}
		}
		if reply == "" {
			m.note, m.noteErr = m.text.nothingCopy, false
			return nil, true
		}
		note := m.text.copied
		return func() tea.Msg {
			return actionMsg{err: clipboard.Copy(reply), note: note}
		}, true

	case "ctrl+t":
		m.updatePrefs(func(p *settings.Preferences) { p.VoiceEnabled = !p.VoiceEnabled })
		if m.app.prefs.Get().VoiceEnabled {
			m.note = m.text.voiceOn
		} else {
			m.note = m.text.voiceOff
		}
		return nil, true

	case "ctrl+f":
		m.updatePrefs(func(p *settings.Preferences) {
			switch p.FontSize {
			case settings.FontNormal:
				p.FontSize = settings.FontLarge
			case settings.FontLarge:
				p.FontSize = settings.FontXLarge
			default:
				p.FontSize = settings.FontNormal
			}
		})
		return nil, true

	case "ctrl+s":
		store, ctx, note := m.app.prefs, m.ctx, m.text.saved
		return func() tea.Msg {
			return actionMsg{err: store.Save(ctx), note: note}
		}, true
	}
	return nil, false
}

// command handles slash commands typed into the input.
func (m *tuiModel) command(value string) tea.Cmd {
	if !strings.HasPrefix(value, "/") {
		return nil
	}
	name, arg, _ := strings.Cut(value[1:], " ")
	ctx, gw := m.ctx, m.app.gw
	switch name {
	case "search", "복지":
		return func() tea.Msg {
			return searchMsg{query: arg, result: welfare.Search(ctx, gw, arg, 5)}
		}
	case "categories", "분류":
		return func() tea.Msg {
			return searchMsg{listing: welfare.Categories(ctx, gw)}
		}
	}
	return nil
}

func (m *tuiModel) updatePrefs(fn func(*settings.Preferences)) {
	if err := m.app.prefs.Update(fn); err != nil {
		m.note, m.noteErr = err.Error(), true
		return
	}
	m.style = newPalette(m.app.prefs.Get())
	m.refresh()
}

// refresh re-renders the transcript into the viewport.
func (m *tuiModel) refresh() {
	width := max(m.view.Width-2, 10)
	body := lipgloss.NewStyle().Width(width).PaddingLeft(2)
	gap := strings.Repeat("\n", m.style.spacing)

	var b strings.Builder
	if len(m.entries) == 0 {
		b.WriteString(m.style.dim.Render(m.text.empty))
	}
	for _, e := range m.entries {
		switch {
		case e.turn != nil:
			label := m.style.you.Render(m.text.you)
			if e.turn.Role == session.RoleAssistant {
				label = m.style.assistant.Render(m.text.assistant)
			}
			b.WriteString(label + m.style.dim.Render("  "+e.turn.CreatedAt.Format("15:04")) + "\n")
			b.WriteString(body.Render(m.style.text.Render(e.turn.Text)) + "\n" + gap)
		case e.search != nil && e.search.listing != nil:
			b.WriteString(m.style.title.Render(m.text.categories) + "\n")
			b.WriteString(body.Render(m.style.text.Render(strings.Join(e.search.listing, ", "))) + "\n" + gap)
		case e.search != nil:
			title := m.text.results
			if e.search.query != "" {
				title += ": " + e.search.query
			}
			if e.search.result.Local {
				title += " " + m.text.local
			}
			b.WriteString(m.style.title.Render(title) + "\n")
			for _, p := range e.search.result.Programs {
				b.WriteString(body.Render(m.style.text.Render("• "+p.Name) + m.style.dim.Render(" ["+p.Category+"] "+p.Benefit)) + "\n")
			}
			b.WriteString(gap)
		}
		b.WriteString("\n")
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func renderLevel(level float64, width int) string {
	filled := int(level * 4 * float64(width)) // speech RMS rarely exceeds 0.25
	filled = min(max(filled, 0), width)
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i >= filled {
			b.WriteString(" ")
			continue
		}
		c := levelColors[i*len(levelColors)/width]
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render("█"))
	}
	return "[" + b.String() + "]"
}

func (m tuiModel) statusLine() string {
	s := m.snap
	switch {
	case s.IsRecording():
		line := m.style.err.Render(fmt.Sprintf("● %s %.1fs ", m.text.recording, s.Recorded.Seconds())) + renderLevel(s.Level, 20)
		if m.silent {
			line += "  " + m.style.warn.Render("⚠ "+m.app.messages.SilenceWarning)
		}
		return line
	case s.IsProcessing():
		return m.spin.View() + " " + m.style.dim.Render(m.text.working)
	case s.IsSpeaking():
		return m.style.ok.Render("♪ " + m.text.speaking)
	case s.State == session.Error:
		return m.style.err.Render("✗ "+s.Message) + "  " + m.style.dim.Render(m.text.errorHint)
	}
	return m.style.dim.Render("○ " + m.text.idle)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	voice := m.text.voiceOff
	if m.app.prefs.Get().VoiceEnabled {
		voice = m.text.voiceOn
	}
	header := m.style.title.Render(m.text.title) + "  " +
		m.style.dim.Render(fmt.Sprintf("%s | %s | %s", m.deviceLine, voice, version))

	note := ""
	if m.note != "" {
		if m.noteErr {
			note = m.style.warn.Render(m.note)
		} else {
			note = m.style.ok.Render(m.note)
		}
	}

	help := m.style.dim.Render(m.text.help)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.view.View(),
		m.statusLine(),
		note,
		m.input.View(),
		help,
	)
}

// runTUI opens the sound system, builds the controller and runs the
// full-screen interface until the user quits or a signal arrives.
func runTUI(ctx context.Context, a *app, f *flags) int {
	var (
		mic    session.Microphone = noAudio{}
		player session.Player     = noAudio{}
		cues   session.Cues
		device *audio.DeviceInfo
	)

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: audio unavailable (%v); typed conversation only\n", err)
	} else {
		defer actx.Close()
		mic, player = actx, audio.NewSpeaker(actx)
		if bp := beep.New(actx, a.cfg.Voice.Beep); bp != nil {
			cues = bp
			defer bp.Stop()
		}

		switch {
		case f.device != "":
			device, err = audio.FindDevice(actx, f.device)
		case f.selectDevice:
			device, err = audio.SelectDevice(actx)
			if errors.Is(err, audio.ErrSelectionCancelled) {
				return 0
			}
		}
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v\nFalling back to default device\n", err)
			device = nil
		}
	}

	events := newEventQueue()
	ctrl, err := a.newController(mic, device, player, cues, events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctrl.Greet()

	p := tea.NewProgram(newTUIModel(ctx, ctrl, a, device), tea.WithAltScreen())

	drained := make(chan struct{})
	go func() {
		events.run(func(e session.Event) { p.Send(sessionMsg(e)) })
		close(drained)
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, runErr := p.Run()
	ctrl.Close()
	events.close()
	<-drained

	if runErr != nil {
		log.Errorf("TUI error: %v", runErr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}
