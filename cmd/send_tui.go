// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
)

//////////////////////////////////////////////////////////////
// Worker
//////////////////////////////////////////////////////////////

// sendWorker owns the session. Messages typed in the TUI are queued here and
// sent one at a time from the worker goroutine.
type sendWorker struct {
	s        *session
	requests chan string

	mu     sync.Mutex
	cancel context.CancelFunc
}

type sendDoneMsg struct {
	res exchange.Result
	err error
	cfg enigma.DeviceConfig
}

func newSendWorker(s *session) *sendWorker {
	return &sendWorker{s: s, requests: make(chan string, 1)}
}

// submit queues text. It reports false when a message is already waiting.
func (w *sendWorker) submit(text string) bool {
	select {
	case w.requests <- text:
		return true
	default:
		return false
	}
}

// abort stops the message being sent after the current character
func (w *sendWorker) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *sendWorker) setCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel = cancel
}

func (w *sendWorker) run(ctx context.Context, p *tea.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-w.requests:
			sctx, cancel := context.WithCancel(ctx)
			w.setCancel(cancel)
			res, err := w.s.send(sctx, text, nil)
			w.setCancel(nil)
			cancel()
			p.Send(sendDoneMsg{res: res, err: err, cfg: w.s.client.Config()})
		}
	}
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type sendModel struct {
	styles    tuiStyles
	info      string
	input     textinput.Model
	worker    *sendWorker
	cfg       enigma.DeviceConfig
	groupSize int

	busy    bool
	message string // letters of the message being sent
	output  string
	sent    int
	lastIn  string
	lastOut string
	result  string

	log      eventLog
	width    int
	quitting bool
}

func initialSendModel(worker *sendWorker, info string, cfg enigma.DeviceConfig, groupSize int) sendModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter"
	ti.CharLimit = 250
	ti.Width = 60
	ti.Focus()

	return sendModel{
		styles:    newStyles(),
		info:      info,
		input:     ti,
		worker:    worker,
		cfg:       cfg,
		groupSize: groupSize,
		log:       newEventLog(100),
		width:     80,
	}
}

func (m sendModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m sendModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			m.worker.abort()
			return m, tea.Quit
		case "esc":
			if m.busy {
				m.worker.abort()
				m.log.add(time.Now(), "Stopping after the current character", false)
			}
			return m, nil
		case "enter":
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case eventBatchMsg:
		for _, ev := range msg {
			m.applyEvent(ev)
		}
		return m, nil

	case sendDoneMsg:
		m.finish(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m sendModel) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	text := m.input.Value()
	letters := enigma.FilterMessage(text)
	if letters == "" {
		m.log.add(time.Now(), "Nothing to send: the message has no letters", true)
		return m, nil
	}
	if !m.worker.submit(text) {
		return m, nil
	}
	m.busy = true
	m.message = letters
	m.output = ""
	m.sent = 0
	m.result = ""
	m.input.Reset()
	m.log.add(time.Now(), fmt.Sprintf("Sending %d characters", len(letters)), false)
	return m, nil
}

func (m *sendModel) applyEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.CharacterExchanged:
		m.sent = e.Index + 1
		m.output += e.Output
		m.lastIn, m.lastOut = e.Input, e.Output
		return
	case events.PositionChanged:
		m.cfg.RingPosition = e.Position
		return
	}
	if text, isErr, ok := describeEvent(ev); ok {
		m.log.add(ev.Time(), text, isErr)
	}
}

func (m *sendModel) finish(msg sendDoneMsg) {
	m.busy = false
	m.cfg = msg.cfg
	if msg.err != nil {
		m.log.add(time.Now(), msg.err.Error(), true)
		return
	}
	m.result = enigma.GroupText(msg.res.Output, m.groupSize)
	if err := sendOutcome(msg.res); err != nil {
		m.log.add(time.Now(), err.Error(), true)
		return
	}
	m.log.add(time.Now(), "Message complete", false)
}

func (m sendModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles
	var s strings.Builder

	help := "Enter=send Ctrl+C=quit"
	if m.busy {
		help = "Esc=stop Ctrl+C=quit"
	}
	s.WriteString(st.title.Render("ENIGMA TOUCH"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s", m.info, help)))
	s.WriteString("\n\n")

	s.WriteString(renderConfig(st, m.cfg, m.width))
	s.WriteString("\n")

	var body strings.Builder
	body.WriteString(st.label.Render("Message"))
	body.WriteString("\n")
	if m.message == "" {
		body.WriteString(st.header.Render("(nothing sent yet)"))
	} else {
		body.WriteString(highlightLetter(st, m.message, m.sent))
	}
	body.WriteString("\n\n")
	body.WriteString(st.label.Render("Output"))
	body.WriteString("\n")
	out := m.result
	if m.busy || out == "" {
		out = enigma.GroupText(m.output, m.groupSize)
	}
	body.WriteString(st.value.Render(out))
	body.WriteString("\n\n")
	body.WriteString(st.field("Last", fmt.Sprintf("%s -> %s", orDash(m.lastIn), orDash(m.lastOut))))
	if m.busy {
		body.WriteString("  ")
		body.WriteString(st.field("Progress", fmt.Sprintf("%d/%d", m.sent, len(m.message))))
	}
	s.WriteString(st.box.Width(m.width - 4).Render(body.String()))
	s.WriteString("\n")

	inputStyle := st.focused
	if m.busy {
		inputStyle = st.box
	}
	s.WriteString(inputStyle.Width(m.width - 4).Render(m.input.View()))
	s.WriteString("\n")

	s.WriteString(st.box.Width(m.width - 4).Render(st.label.Render("EVENTS") + "\n" + m.log.lines(st, 8)))
	return s.String()
}

//////////////////////////////////////////////////////////////
// Shared rendering
//////////////////////////////////////////////////////////////

// renderConfig draws the cipher settings bar
func renderConfig(st tuiStyles, cfg enigma.DeviceConfig, width int) string {
	plug := cfg.Plugboard
	if strings.TrimSpace(plug) == "" {
		plug = "clear"
	}
	content := lipgloss.JoinHorizontal(lipgloss.Top,
		st.field("Model", cfg.Model), "  ",
		st.field("Rotors", cfg.RotorOrder), "  ",
		st.field("Rings", cfg.RingSettings), "  ",
		st.field("Position", cfg.RingPosition), "  ",
		st.field("Plugboard", plug),
	)
	return st.box.Width(width - 4).Render(content)
}

// highlightLetter marks the letter after the first done letters
func highlightLetter(st tuiStyles, text string, done int) string {
	if done >= len(text) {
		return st.value.Render(text)
	}
	return st.value.Render(text[:done]) + st.current.Render(text[done:done+1]) + text[done+1:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

//////////////////////////////////////////////////////////////
// Entry point
//////////////////////////////////////////////////////////////

func runSendTUI() error {
	logger, closeLog, err := newLogger(true)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := s.bus.Subscribe(256)
	defer unsubscribe()

	worker := newSendWorker(s)
	m := initialSendModel(worker, s.info, s.client.Config(), s.settings.WordGroupSize)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go forwardEvents(ctx, ch, p)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.run(ctx, p)
	}()

	_, err = p.Run()
	worker.abort()
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
