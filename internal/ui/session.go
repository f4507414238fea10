package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Snapshot is everything the session view shows. It is read fresh on every
// refresh.
type Snapshot struct {
	RoomID     string
	UserID     string
	Status     string
	Peers      []PeerRow
	Incoming   []string
	Muted      bool
	WatchPath  string
	DocVersion uint64
}

// Actions are the operations bound to keys in the session view.
type Actions interface {
	Snapshot() Snapshot
	AcceptCall(peerID string) error
	DeclineCall(peerID string)
	AcceptAll() error
	DeclineAll()
	CallPeers() error
	ToggleMic() bool
}

// FocusReporter is told when the terminal loses or regains focus.
type FocusReporter interface {
	SetHidden(hidden bool)
}

type refreshMsg struct{}

type noticeMsg struct {
	text string
	err  bool
}

type sessionModel struct {
	actions  Actions
	focus    FocusReporter
	snap     Snapshot
	spinner  spinner.Model
	notice   noticeMsg
	quitting bool
}

func newSessionModel(actions Actions, focus FocusReporter) *sessionModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &sessionModel{
		actions: actions,
		focus:   focus,
		snap:    actions.Snapshot(),
		spinner: s,
	}
}

func (m *sessionModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.FocusMsg:
		if m.focus != nil {
			m.focus.SetHidden(false)
		}

	case tea.BlurMsg:
		if m.focus != nil {
			m.focus.SetHidden(true)
		}

	case refreshMsg:
		m.snap = m.actions.Snapshot()

	case noticeMsg:
		m.notice = msg
		m.snap = m.actions.Snapshot()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey maps a key to an action. Actions that negotiate run as commands
// so the view keeps drawing.
func (m *sessionModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit

	case "a":
		if len(m.snap.Incoming) == 0 {
			return nil
		}
		id := m.snap.Incoming[0]
		return func() tea.Msg {
			if err := m.actions.AcceptCall(id); err != nil {
				return noticeMsg{text: fmt.Sprintf("Could not accept %s: %v", id, err), err: true}
			}
			return noticeMsg{text: "In call with " + id}
		}

	case "d":
		if len(m.snap.Incoming) == 0 {
			return nil
		}
		id := m.snap.Incoming[0]
		return func() tea.Msg {
			m.actions.DeclineCall(id)
			return noticeMsg{text: "Declined " + id}
		}

	case "A":
		return func() tea.Msg {
			if err := m.actions.AcceptAll(); err != nil {
				return noticeMsg{text: fmt.Sprintf("Some calls failed: %v", err), err: true}
			}
			return noticeMsg{text: "Accepted all calls"}
		}

	case "D":
		return func() tea.Msg {
			m.actions.DeclineAll()
			return noticeMsg{text: "Declined all calls"}
		}

	case "c":
		return func() tea.Msg {
			if err := m.actions.CallPeers(); err != nil {
				return noticeMsg{text: fmt.Sprintf("Call failed: %v", err), err: true}
			}
			return noticeMsg{text: "Calling peers"}
		}

	case "m":
		return func() tea.Msg {
			if m.actions.ToggleMic() {
				return noticeMsg{text: "Microphone muted"}
			}
			return noticeMsg{text: "Microphone live"}
		}
	}
	return nil
}

func (m *sessionModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	s := m.snap

	b.WriteString(fmt.Sprintf("\n%s %s  %s\n", IconRoom, TitleStyle.Render(s.RoomID), StatusStyle.Render(s.Status)))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("%s you are %s", IconPeer, s.UserID)) + "\n\n")

	if s.Status != "connected" {
		b.WriteString(fmt.Sprintf("%s waiting for peers\n\n", m.spinner.View()))
	}

	b.WriteString(PeerTableView(s.Peers) + "\n")

	if len(s.Incoming) > 0 {
		lines := []string{fmt.Sprintf("%s Incoming call from %s", IconCall, BoldStyle.Render(s.Incoming[0]))}
		if len(s.Incoming) > 1 {
			lines = append(lines, MutedStyle.Render(fmt.Sprintf("+%d more waiting: %s", len(s.Incoming)-1, strings.Join(s.Incoming[1:], ", "))))
		}
		lines = append(lines, "[a] accept  [d] decline  [A] accept all  [D] decline all")
		b.WriteString(CallBoxStyle.Render(strings.Join(lines, "\n")) + "\n")
	}

	mic := IconMic + " mic live"
	if s.Muted {
		mic = WarningStyle.Render(IconMuted + " muted")
	}
	b.WriteString("\n" + mic)
	if s.WatchPath != "" {
		b.WriteString(fmt.Sprintf("   %s %s v%d", IconSync, s.WatchPath, s.DocVersion))
	}
	b.WriteString("\n")

	if m.notice.text != "" {
		style := SuccessStyle
		if m.notice.err {
			style = ErrorStyle
		}
		b.WriteString(style.Render(m.notice.text) + "\n")
	}

	b.WriteString(FooterStyle.Render("[c] call everyone  [m] mute  [q] leave"))
	return b.String()
}

// SessionUI runs the interactive room view.
type SessionUI struct {
	model   *sessionModel
	mu      sync.Mutex
	program *tea.Program
}

func NewSessionUI(actions Actions, focus FocusReporter) *SessionUI {
	return &SessionUI{model: newSessionModel(actions, focus)}
}

// Run blocks until the user quits.
func (ui *SessionUI) Run() error {
	p := tea.NewProgram(ui.model, tea.WithReportFocus())
	ui.mu.Lock()
	ui.program = p
	ui.mu.Unlock()

	_, err := p.Run()
	return err
}

// Refresh asks the view to re-read the snapshot. Safe from any goroutine.
func (ui *SessionUI) Refresh() {
	ui.send(refreshMsg{})
}

// Notify shows text under the peer table.
func (ui *SessionUI) Notify(text string, isErr bool) {
	ui.send(noticeMsg{text: text, err: isErr})
}

func (ui *SessionUI) Quit() {
	ui.mu.Lock()
	p := ui.program
	ui.mu.Unlock()
	if p != nil {
		p.Quit()
	}
}

func (ui *SessionUI) send(msg tea.Msg) {
	ui.mu.Lock()
	p := ui.program
	ui.mu.Unlock()
	if p != nil {
		go p.Send(msg)
	}
}
