// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

//////////////////////////////////////////////////////////////
// Error banners
//////////////////////////////////////////////////////////////

var (
	bannerPattern     = regexp.MustCompile(`\^\r*\n\*\*\* (.+)`)
	bareBannerPattern = regexp.MustCompile(`(?:^|\r?\n)\*\*\* (.+)`)
)

// HasErrorBanner reports whether text contains a firmware error banner and
// returns its message. The leading caret line is optional.
func HasErrorBanner(text string) (bool, string) {
	if m := bannerPattern.FindStringSubmatch(text); m != nil {
		return true, strings.TrimSpace(m[1])
	}
	if m := bareBannerPattern.FindStringSubmatch(text); m != nil {
		return true, strings.TrimSpace(m[1])
	}
	return false, ""
}

//////////////////////////////////////////////////////////////
// Tokenizer and line classification
//////////////////////////////////////////////////////////////

// Tokenize splits device text on any whitespace, dropping NUL bytes
func Tokenize(text string) []string {
	return strings.Fields(strings.ReplaceAll(text, "\x00", " "))
}

// LineKind is the classification of one device output line
type LineKind int

const (
	LineUnrecognized LineKind = iota
	LineResult
	LineConfig
	LineErrorBanner
)

func (k LineKind) String() string {
	switch k {
	case LineResult:
		return "Result"
	case LineConfig:
		return "ConfigLine"
	case LineErrorBanner:
		return "ErrorBanner"
	default:
		return "Unrecognized"
	}
}

// ParsedLine is a classified device output line
type ParsedLine struct {
	Kind    LineKind
	Text    string
	Message string // error banner text
}

// Keywords that open a line of the settings dump
var configKeywords = map[string]bool{
	"enigma":      true,
	"model":       true,
	"reflector":   true,
	"ukw":         true,
	"rotors":      true,
	"wheels":      true,
	"rings":       true,
	"positions":   true,
	"plugboard":   true,
	"counter":     true,
	"lock":        true,
	"locks":       true,
	"brightness":  true,
	"volume":      true,
	"logging":     true,
	"timeout":     true,
	"timeouts":    true,
	"battery":     true,
	"plugged":     true,
	"screensaver": true,
	"setup":       true,
	"firmware":    true,
	"version":     true,
	"settings":    true,
}

// ClassifyLine classifies a single line. The result pattern is checked before
// the config keywords since a dump's positions line starts with the keyword.
func ClassifyLine(line string) ParsedLine {
	text := strings.TrimSpace(line)
	if text == "" {
		return ParsedLine{Kind: LineUnrecognized}
	}

	if strings.HasPrefix(text, "*** ") {
		return ParsedLine{Kind: LineErrorBanner, Text: text, Message: strings.TrimSpace(text[4:])}
	}

	tokens := Tokenize(text)
	if len(tokens) >= 3 && isLetterToken(tokens[0]) && isLetterToken(tokens[1]) &&
		strings.EqualFold(tokens[2], PositionsKeyword) {
		return ParsedLine{Kind: LineResult, Text: text}
	}

	if configKeywords[strings.ToLower(strings.TrimRight(tokens[0], ":"))] {
		return ParsedLine{Kind: LineConfig, Text: text}
	}

	return ParsedLine{Kind: LineUnrecognized, Text: text}
}

// ClassifyLines classifies every non-empty line of text
func ClassifyLines(text string) []ParsedLine {
	var out []ParsedLine
	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, ClassifyLine(line))
	}
	return out
}

// StripConfigSummary removes an unsolicited settings dump from a raw
// response. When at least one config line is present the last result line is
// returned alone; otherwise raw is returned unchanged.
func StripConfigSummary(raw []byte) []byte {
	lastResult := ""
	configSeen := false

	for _, line := range ClassifyLines(string(raw)) {
		switch line.Kind {
		case LineResult:
			lastResult = line.Text
		case LineConfig:
			configSeen = true
		}
	}

	if !configSeen || lastResult == "" {
		return raw
	}
	return []byte(lastResult)
}

func splitLines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
}

//////////////////////////////////////////////////////////////
// Positions
//////////////////////////////////////////////////////////////

// ParsePositionValue converts a letter or a number to a rotor value in 1-26
func ParsePositionValue(token string) (int, bool) {
	t := strings.TrimSpace(token)
	if len(t) == 1 && isASCIILetter(t[0]) {
		return int(upperByte(t[0])-'A') + 1, true
	}
	if t == "" || len(t) > 2 {
		return 0, false
	}
	for i := 0; i < len(t); i++ {
		if t[i] < '0' || t[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 1 || n > 26 {
		return 0, false
	}
	return n, true
}

// ParsePositions parses rotorCount position tokens starting at start
func ParsePositions(tokens []string, start, rotorCount int) (Position, bool) {
	if start < 0 || rotorCount <= 0 || start+rotorCount > len(tokens) {
		return nil, false
	}
	pos := make(Position, rotorCount)
	for i := 0; i < rotorCount; i++ {
		v, ok := ParsePositionValue(tokens[start+i])
		if !ok {
			return nil, false
		}
		pos[i] = v
	}
	return pos, true
}

// FormatPositions renders pos in the style of the original tokens. A letter
// stays a letter of the same case, a number that still matches is kept
// verbatim, anything else becomes two-digit numeric.
func FormatPositions(tokens []string, start int, pos Position) string {
	if start < 0 || start+len(pos) > len(tokens) {
		return pos.String()
	}
	parts := make([]string, len(pos))
	for i, v := range pos {
		orig := strings.TrimSpace(tokens[start+i])
		switch {
		case len(orig) == 1 && isASCIILetter(orig[0]):
			c := byte('A' + v - 1)
			if orig[0] >= 'a' {
				c = byte('a' + v - 1)
			}
			parts[i] = string(c)
		case parsesTo(orig, v):
			parts[i] = orig
		default:
			parts[i] = fmt.Sprintf("%02d", v)
		}
	}
	return strings.Join(parts, " ")
}

func parsesTo(token string, v int) bool {
	n, err := strconv.Atoi(token)
	return err == nil && n == v
}

//////////////////////////////////////////////////////////////
// Exchange frames
//////////////////////////////////////////////////////////////

// Exchange is one parsed character exchange frame
type Exchange struct {
	Input        string // uppercase
	Output       string // uppercase
	RawInput     string
	RawOutput    string
	Upper        bool // frame letters were uppercase
	Position     Position
	PositionText string // position in the device's own rendering
	Counter      int
	HasCounter   bool
	Index        int // token index of the input letter
}

// FindExchanges returns every frame "<in> <out> Positions <p...> [Counter <n>]"
// in tokens. With CaseUpper only uppercase frames match. With CaseLower both
// cases match so the caller can detect a device operated by hand.
func FindExchanges(tokens []string, rotorCount int, expect Case) []Exchange {
	var found []Exchange
	for j := 0; j+3+rotorCount <= len(tokens); j++ {
		in, out := tokens[j], tokens[j+1]
		if !isLetterToken(in) || !isLetterToken(out) || !strings.EqualFold(tokens[j+2], PositionsKeyword) {
			continue
		}

		upper := isUpperByte(in[0]) && isUpperByte(out[0])
		lower := !isUpperByte(in[0]) && !isUpperByte(out[0])
		if !upper && !lower {
			continue
		}
		if expect == CaseUpper && !upper {
			continue
		}

		pos, ok := ParsePositions(tokens, j+3, rotorCount)
		if !ok {
			continue
		}

		ex := Exchange{
			Input:        strings.ToUpper(in),
			Output:       strings.ToUpper(out),
			RawInput:     in,
			RawOutput:    out,
			Upper:        upper,
			Position:     pos,
			PositionText: FormatPositions(tokens, j+3, pos),
			Index:        j,
		}
		k := j + 3 + rotorCount
		if k+1 < len(tokens) && strings.EqualFold(tokens[k], CounterKeyword) {
			if n, err := strconv.Atoi(tokens[k+1]); err == nil {
				ex.Counter = n
				ex.HasCounter = true
			}
		}
		found = append(found, ex)
	}
	return found
}

// FindExchange returns the first frame in text, see FindExchanges
func FindExchange(text string, rotorCount int, expect Case) (Exchange, bool) {
	found := FindExchanges(Tokenize(text), rotorCount, expect)
	if len(found) == 0 {
		return Exchange{}, false
	}
	return found[0], true
}

func isASCIILetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isUpperByte(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func isLetterToken(t string) bool {
	return len(t) == 1 && isASCIILetter(t[0])
}
