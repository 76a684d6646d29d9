// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type museumTickMsg time.Time

type schedulerDoneMsg struct{ err error }

// museumModel is the dashboard. It only reads snapshots and statistics; the
// scheduler goroutine owns the device.
type museumModel struct {
	styles  tuiStyles
	source  museum.SnapshotSource
	stats   *exchange.Statistics
	info    string
	started time.Time

	snap    museum.Snapshot
	logView viewport.Model
	follow  bool

	width    int
	height   int
	quitting bool
}

func initialMuseumModel(source museum.SnapshotSource, stats *exchange.Statistics, info string) museumModel {
	vp := viewport.New(76, 10)
	return museumModel{
		styles:  newStyles(),
		source:  source,
		stats:   stats,
		info:    info,
		started: time.Now(),
		snap:    source.Snapshot(),
		logView: vp,
		follow:  true,
		width:   80,
		height:  24,
	}
}

func (m museumModel) Init() tea.Cmd {
	return museumTickCmd()
}

func museumTickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return museumTickMsg(t)
	})
}

func (m museumModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "end", "G":
			m.follow = true
			m.logView.GotoBottom()
			return m, nil
		case "up", "k", "pgup":
			m.follow = false
		}
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()
		m.refreshLog()

	case museumTickMsg:
		m.snap = m.source.Snapshot()
		m.refreshLog()
		return m, museumTickCmd()

	case schedulerDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *museumModel) resizeLog() {
	h := m.height - 20
	if h < 5 {
		h = 5
	}
	m.logView.Width = m.width - 6
	m.logView.Height = h
}

func (m *museumModel) refreshLog() {
	st := m.styles
	var b strings.Builder
	for _, e := range m.snap.Log {
		style := st.warning
		icon := "i"
		if e.IsError {
			style, icon = st.err, "x"
		}
		fmt.Fprintf(&b, "%s %s %s\n", st.header.Render(e.Time.Format("15:04:05")), style.Render(icon), e.Message)
	}
	m.logView.SetContent(strings.TrimRight(b.String(), "\n"))
	if m.follow {
		m.logView.GotoBottom()
	}
}

func (m museumModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles
	snap := m.snap
	var s strings.Builder

	s.WriteString(st.title.Render("ENIGMA MUSEUM"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit arrows=scroll End=follow", m.info)))
	s.WriteString("\n\n")

	s.WriteString(m.renderState())
	s.WriteString("\n")
	s.WriteString(renderConfig(st, snap.Config, m.width))
	s.WriteString("\n")
	s.WriteString(m.renderMessage())
	s.WriteString("\n")
	s.WriteString(m.renderStatistics())
	s.WriteString("\n")
	s.WriteString(st.box.Width(m.width - 4).Render(st.label.Render("ACTIVITY") + "\n" + m.logView.View()))
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m museumModel) renderState() string {
	st := m.styles
	snap := m.snap

	stateStyle := st.value
	switch snap.State {
	case enigma.StatePaused:
		stateStyle = st.warning
	case enigma.StateDisconnected:
		stateStyle = st.err
	}
	state := stateStyle.Render(strings.ToUpper(snap.State.String()))
	if snap.Reason != "" {
		state += st.header.Render(" (" + snap.Reason + ")")
	}

	connected := "yes"
	if !snap.Connected {
		connected = st.err.Render("no")
	}
	in, out := snap.LastChars()

	content := lipgloss.JoinHorizontal(lipgloss.Top,
		st.label.Render("State: "), state, "  ",
		st.field("Connected", connected), "  ",
		st.field("Mode", snap.FunctionMode.String()), "  ",
		st.field("Delay", fmt.Sprintf("%ds", snap.Delay)), "  ",
		st.field("Last", in+" -> "+out), "  ",
		st.field("Uptime", formatElapsed(time.Since(m.started))),
	)
	return st.box.Width(m.width - 4).Render(content)
}

func (m museumModel) renderMessage() string {
	st := m.styles
	snap := m.snap

	var b strings.Builder
	if snap.Message == "" {
		b.WriteString(st.header.Render("Waiting for the next message..."))
		return st.box.Width(m.width - 4).Render(b.String())
	}

	b.WriteString(st.label.Render(fmt.Sprintf("Message %d", snap.MessageIndex+1)))
	b.WriteString("\n")
	b.WriteString(highlightMessage(st, snap.Message, snap.CurrentCharIndex))
	b.WriteString("\n")
	b.WriteString(st.label.Render("Result"))
	b.WriteString("\n")
	b.WriteString(st.value.Render(snap.CurrentText))
	if snap.SlidePath != "" {
		b.WriteString("\n")
		b.WriteString(st.field("Slide", snap.SlidePath))
	}
	return st.box.Width(m.width - 4).Render(b.String())
}

func (m museumModel) renderStatistics() string {
	st := m.styles
	stats := m.stats.Snapshot()

	failures := stats.Incomplete + stats.Unrecognized + stats.Unchanged
	content := lipgloss.JoinHorizontal(lipgloss.Top,
		st.field("Chars", fmt.Sprintf("%d", stats.Accepted)), "  ",
		st.field("Retries", fmt.Sprintf("%d", stats.Retries)), "  ",
		st.field("Dropped", fmt.Sprintf("%d", stats.Dropped)), "  ",
		st.field("Failures", fmt.Sprintf("%d", failures)), "  ",
		st.field("Rate", fmt.Sprintf("%.2f char/s", stats.CharRate)),
	)
	return st.box.Width(m.width - 4).Render(content)
}

// highlightMessage marks the current letter, counting letters only and
// keeping the message's spaces
func highlightMessage(st tuiStyles, text string, current int) string {
	var b strings.Builder
	n := 0
	for _, r := range text {
		if r != ' ' {
			n++
			if n == current {
				b.WriteString(st.current.Render(string(r)))
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

//////////////////////////////////////////////////////////////
// Entry point
//////////////////////////////////////////////////////////////

func runMuseumTUI(ctx context.Context, stop context.CancelFunc, s *session, sched *museum.Scheduler) error {
	m := initialMuseumModel(sched, s.engine.Statistics(), s.info)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		err := sched.Run(ctx)
		done <- err
		p.Send(schedulerDoneMsg{err: err})
	}()

	_, tuiErr := p.Run()
	stop()
	err := <-done
	if tuiErr != nil {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	return err
}
