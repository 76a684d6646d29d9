// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"html/template"
	"strings"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

// statusLogLines is how many log lines the status page shows
const statusLogLines = 50

// highlightDelayMS is the character delay from which the kiosk page marks
// the letter being sent
const highlightDelayMS = 2000

var templateFuncs = template.FuncMap{
	"plugboard": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "clear"
		}
		return s
	},
}

type statusView struct {
	museum.Snapshot
	Log     []museum.LogEntry // newest first
	LastIn  string
	LastOut string
}

func newStatusView(snap museum.Snapshot) statusView {
	v := statusView{Snapshot: snap}
	v.LastIn, v.LastOut = snap.LastChars()
	for i := len(snap.Log) - 1; i >= 0 && len(v.Log) < statusLogLines; i-- {
		v.Log = append(v.Log, snap.Log[i])
	}
	return v
}

// letter is one character of the message line on the kiosk page
type letter struct {
	Text    string
	Current bool
}

type messageView struct {
	museum.Snapshot
	Interactive bool
	InputLabel  string
	Input       []letter
	ResultLabel string
	Result      string
	Rotors      []string
	LastIn      string
	LastOut     string
}

func newMessageView(snap museum.Snapshot) messageView {
	v := messageView{
		Snapshot:    snap,
		Interactive: snap.FunctionMode == enigma.ModeInteractive,
		Rotors:      strings.Fields(snap.Config.RotorOrder),
	}
	v.LastIn, v.LastOut = snap.LastChars()

	if v.Interactive {
		v.InputLabel = "Input Letter"
		v.ResultLabel = "Encoded Letter"
		if snap.LastInput != "" {
			v.Input = []letter{{Text: snap.LastInput}}
			v.Result = snap.LastOutput
		}
		return v
	}

	v.InputLabel = "Current Message"
	if snap.FunctionMode == enigma.ModeDecode {
		v.ResultLabel = "Decoded Message"
	} else {
		v.ResultLabel = "Encoded Message"
	}
	v.Input = splitLetters(snap.Message, highlightIndex(snap))
	v.Result = snap.CurrentText
	return v
}

// highlightIndex returns the 1-based letter to mark, or 0
func highlightIndex(snap museum.Snapshot) int {
	if snap.CharacterDelayMS < highlightDelayMS {
		return 0
	}
	return snap.CurrentCharIndex
}

func splitLetters(text string, current int) []letter {
	out := make([]letter, 0, len(text))
	n := 0
	for _, r := range text {
		l := letter{Text: string(r)}
		if r != ' ' {
			n++
			l.Current = n == current
		}
		out = append(out, l)
	}
	return out
}
