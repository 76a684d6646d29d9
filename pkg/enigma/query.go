// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import (
	"strconv"
	"strings"
)

// lineAfter returns the text following keyword on the first line containing it
func lineAfter(text, keyword string) (string, bool) {
	for _, line := range splitLines(text) {
		if idx := strings.Index(line, keyword); idx >= 0 {
			value := line[idx+len(keyword):]
			if nul := strings.IndexByte(value, 0); nul >= 0 {
				value = value[:nul]
			}
			return strings.TrimSpace(strings.TrimLeft(value, ": ")), true
		}
	}
	return "", false
}

// ParseModelResponse extracts the model from a "?MO" response
func ParseModelResponse(text string) (string, bool) {
	model, ok := lineAfter(text, "Enigma")
	if !ok || model == "" {
		return "", false
	}
	return model, true
}

// ParseRotorResponse combines the reflector and rotor lines of a "?RO" response
func ParseRotorResponse(text string) (string, bool) {
	reflector, ok := lineAfter(text, "Reflector")
	if !ok || reflector == "" {
		return "", false
	}
	rotors, ok := lineAfter(text, "Rotors")
	if !ok || rotors == "" {
		return "", false
	}
	return reflector + " " + rotors, true
}

// ParseRingsResponse extracts the ring settings from a "?RI" response
func ParseRingsResponse(text string) (string, bool) {
	rings, ok := lineAfter(text, "Rings")
	return rings, ok && rings != ""
}

// ParsePositionResponse extracts the rotor positions from a "?RP" response
func ParsePositionResponse(text string) (string, bool) {
	pos, ok := lineAfter(text, PositionsKeyword)
	return pos, ok && pos != ""
}

// ParsePlugboardResponse extracts the plugboard pairs. "clear" means no pairs.
func ParsePlugboardResponse(text string) (string, bool) {
	plug, ok := lineAfter(text, "Plugboard")
	if !ok {
		return "", false
	}
	if strings.EqualFold(plug, "clear") {
		return "", true
	}
	return plug, true
}

// Words the firmware uses for switch states
var switchWords = map[string]bool{
	"on":       true,
	"off":      false,
	"locked":   true,
	"unlocked": false,
	"yes":      true,
	"no":       false,
	"enabled":  true,
	"disabled": false,
	"1":        true,
	"0":        false,
}

// ParseSwitchResponse reads an on/off style response. Echoed commands are skipped.
func ParseSwitchResponse(text string) (bool, bool) {
	tokens := Tokenize(text)
	for i := len(tokens) - 1; i >= 0; i-- {
		t := tokens[i]
		if strings.HasPrefix(t, "?") || strings.HasPrefix(t, "!") {
			continue
		}
		if v, ok := switchWords[strings.ToLower(strings.TrimRight(t, ".,"))]; ok {
			return v, true
		}
	}
	return false, false
}

// ParseNumberResponse returns the last integer token of a response
func ParseNumberResponse(text string) (int, bool) {
	tokens := Tokenize(text)
	for i := len(tokens) - 1; i >= 0; i-- {
		t := tokens[i]
		if strings.HasPrefix(t, "?") || strings.HasPrefix(t, "!") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimRight(t, ".,")); err == nil {
			return n, true
		}
	}
	return 0, false
}

// FormatSwitch renders a flag the way set commands expect it
func FormatSwitch(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
