package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxTranscriptLines bounds the final lines kept on screen.
const maxTranscriptLines = 200

// TranscriptState is the lifecycle of a transcription session as shown to
// the user.
type TranscriptState int

const (
	StateConnecting TranscriptState = iota
	StateLive
	StateDone
	StateError
)

// TranscriptUpdate is sent from the session goroutine to the view.
type TranscriptUpdate struct {
	Type    UpdateType
	Speaker string
	Text    string
	Final   bool
	Err     error
}

type UpdateType int

const (
	UpdateReady UpdateType = iota
	UpdateTranscript
	UpdateStatus
	UpdateDone
	UpdateError
)

type transcriptLine struct {
	speaker string
	text    string
}

// TranscriptModel is the Bubble Tea model for a live transcript.
type TranscriptModel struct {
	title  string
	state  TranscriptState
	status string
	err    error

	lines   []transcriptLine
	interim map[string]string
	colors  map[string]lipgloss.Color
	order   []string

	spinner    spinner.Model
	updateChan chan TranscriptUpdate
	done       chan struct{}
}

func NewTranscriptModel(title string) *TranscriptModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &TranscriptModel{
		title:      title,
		state:      StateConnecting,
		status:     "Connecting to transcription gateway...",
		interim:    make(map[string]string),
		colors:     make(map[string]lipgloss.Color),
		spinner:    s,
		updateChan: make(chan TranscriptUpdate, 100),
		done:       make(chan struct{}),
	}
}

func (m *TranscriptModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates())
}

func (m *TranscriptModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.updateChan:
			return update
		case <-m.done:
			return nil
		}
	}
}

func (m *TranscriptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TranscriptUpdate:
		m.apply(msg)
		if m.state == StateDone || m.state == StateError {
			return m, tea.Quit
		}
		return m, m.waitForUpdates()
	}
	return m, nil
}

func (m *TranscriptModel) apply(u TranscriptUpdate) {
	switch u.Type {
	case UpdateReady:
		m.state = StateLive
		m.status = "Live"

	case UpdateStatus:
		m.status = u.Text

	case UpdateTranscript:
		m.colorFor(u.Speaker)
		if !u.Final {
			m.interim[u.Speaker] = u.Text
			return
		}
		delete(m.interim, u.Speaker)
		m.lines = append(m.lines, transcriptLine{speaker: u.Speaker, text: u.Text})
		if n := len(m.lines) - maxTranscriptLines; n > 0 {
			m.lines = m.lines[n:]
		}

	case UpdateDone:
		m.state = StateDone
		m.interim = make(map[string]string)

	case UpdateError:
		m.state = StateError
		m.err = u.Err
	}
}

func (m *TranscriptModel) colorFor(speaker string) lipgloss.Color {
	c, ok := m.colors[speaker]
	if !ok {
		c = speakerPalette[len(m.order)%len(speakerPalette)]
		m.colors[speaker] = c
		m.order = append(m.order, speaker)
	}
	return c
}

func (m *TranscriptModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s MedCall - %s", IconMic, m.title)))
	b.WriteString("\n\n")

	switch m.state {
	case StateConnecting:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.status)
	case StateLive:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), SuccessStyle.Render(m.status))
	case StateDone:
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("%s Transcription finished", IconComplete)) + "\n")
	case StateError:
		b.WriteString(ErrorBoxStyle.Render(m.err.Error()) + "\n")
	}

	if len(m.lines) > 0 || len(m.interim) > 0 {
		b.WriteString("\n")
	}
	for _, l := range m.lines {
		b.WriteString(m.speakerLabel(l.speaker) + " " + l.text + "\n")
	}
	for _, sp := range m.order {
		if text, ok := m.interim[sp]; ok {
			b.WriteString(m.speakerLabel(sp) + " " + InterimStyle.Render(text) + "\n")
		}
	}

	if m.state == StateConnecting || m.state == StateLive {
		b.WriteString("\n" + MutedStyle.Render("Press 'q' or Ctrl+C to stop"))
	}
	return ContainerStyle.Render(b.String())
}

func (m *TranscriptModel) speakerLabel(speaker string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(m.colors[speaker]).Render(speaker + ":")
}

// TranscriptUI runs a TranscriptModel in its own goroutine.
type TranscriptUI struct {
	model   *TranscriptModel
	program *tea.Program
	exited  chan struct{}
	once    sync.Once
}

func NewTranscriptUI(title string) *TranscriptUI {
	model := NewTranscriptModel(title)
	return &TranscriptUI{
		model:   model,
		program: tea.NewProgram(model),
		exited:  make(chan struct{}),
	}
}

// Start runs the program inline, keeping earlier terminal output visible.
func (ui *TranscriptUI) Start() {
	go func() {
		defer close(ui.exited)
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Exited is closed once the program stops, including when the user quits.
func (ui *TranscriptUI) Exited() <-chan struct{} {
	return ui.exited
}

// Push sends an update without blocking; updates are dropped if the view
// has fallen behind or exited.
func (ui *TranscriptUI) Push(u TranscriptUpdate) {
	select {
	case ui.model.updateChan <- u:
	default:
	}
}

// Finish shows the final state and waits for the program to exit.
func (ui *TranscriptUI) Finish(err error) {
	u := TranscriptUpdate{Type: UpdateDone}
	if err != nil {
		u = TranscriptUpdate{Type: UpdateError, Err: err}
	}
	ui.program.Send(u)
	ui.Stop()
}

// Stop ends the program and waits for it to exit.
func (ui *TranscriptUI) Stop() {
	ui.once.Do(func() {
		close(ui.model.done)
		ui.program.Quit()
	})
	<-ui.exited
}
