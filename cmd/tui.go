// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
)

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

type tuiStyles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	err     lipgloss.Style
	warning lipgloss.Style
	box     lipgloss.Style
	focused lipgloss.Style
	current lipgloss.Style
}

func newStyles() tuiStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box:     box,
		focused: box.BorderForeground(lipgloss.Color("12")),
		current: lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10")),
	}
}

// field renders "Label: value"
func (st tuiStyles) field(label, value string) string {
	return st.label.Render(label+":") + " " + st.value.Render(value)
}

//////////////////////////////////////////////////////////////
// Event log
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type eventLog struct {
	entries []logEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{max: max}
}

func (l *eventLog) add(at time.Time, message string, isError bool) {
	l.entries = append(l.entries, logEntry{timestamp: at, message: message, isError: isError})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// lines renders the newest n entries, oldest first
func (l eventLog) lines(st tuiStyles, n int) string {
	if len(l.entries) == 0 {
		return st.header.Render("  (no events yet)")
	}
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	var s strings.Builder
	for _, e := range l.entries[start:] {
		icon, style := "i", st.warning
		if e.isError {
			icon, style = "x", st.err
		}
		fmt.Fprintf(&s, "%s %s %s\n", st.header.Render(e.timestamp.Format("15:04:05.000")), style.Render(icon), e.message)
	}
	return strings.TrimRight(s.String(), "\n")
}

// describeEvent turns an event into a log line. Events shown elsewhere on
// screen return ok=false.
func describeEvent(ev events.Event) (msg string, isError bool, ok bool) {
	switch e := ev.(type) {
	case events.LogLine:
		return e.Message, e.IsError, true
	case events.RetryAttempt:
		return fmt.Sprintf("Retrying %s (attempt %d): %s", e.Char, e.Attempt, e.Reason), false, true
	case events.CharacterDropped:
		return fmt.Sprintf("Dropped %s at character %d", e.Char, e.Index+1), true, true
	case events.ModeChanged:
		return fmt.Sprintf("Mode %s -> %s (%s)", e.From, e.To, e.Reason), e.Reason == exchange.ReasonOperatedByHand, true
	case events.ConfigFailed:
		return "Configuration failed: " + strings.Join(e.Fields, ", "), true, true
	case events.ForeignInput:
		return fmt.Sprintf("Device input %s -> %s", e.Input, e.Output), false, true
	}
	return "", false, false
}

//////////////////////////////////////////////////////////////
// Event forwarding
//////////////////////////////////////////////////////////////

type eventBatchMsg []events.Event

// forwardEvents hands bus events to the program in batches so a fast
// message cannot flood the render loop
func forwardEvents(ctx context.Context, ch <-chan events.Event, p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var batch []events.Event
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			batch = append(batch, ev)
		case <-ticker.C:
			if len(batch) > 0 {
				p.Send(eventBatchMsg(batch))
				batch = nil
			}
		}
	}
}

// formatElapsed renders a duration as "1h 2m 3s"
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
