// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import "strings"

// DefaultGroupSize is the word group size used when none is configured
const DefaultGroupSize = 5

// FilterMessage uppercases text and keeps only the letters A-Z
func FilterMessage(text string) string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := upperByte(text[i])
		if c >= 'A' && c <= 'Z' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// GroupText splits text into space separated groups of size letters
func GroupText(text string, size int) string {
	if size <= 0 {
		size = DefaultGroupSize
	}
	groups := make([]string, 0, len(text)/size+1)
	for i := 0; i < len(text); i += size {
		end := min(i+size, len(text))
		groups = append(groups, text[i:end])
	}
	return strings.Join(groups, " ")
}

// FormatForDisplay groups text that carries no spaces of its own
func FormatForDisplay(text string, size int) string {
	if text == "" || strings.Contains(text, " ") {
		return text
	}
	return GroupText(text, size)
}

// NormalizeForCompare strips whitespace and uppercases, for verification
func NormalizeForCompare(text string) string {
	return strings.ToUpper(strings.Join(strings.Fields(text), ""))
}

// RestoreSpaces reinserts the word breaks of original into decoded. Only
// breaks that fall inside the decoded length are restored.
func RestoreSpaces(decoded, original string) string {
	letters := strings.ReplaceAll(decoded, " ", "")
	if letters == "" {
		return ""
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(original) && n < len(letters); i++ {
		if original[i] == ' ' {
			if n > 0 {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteByte(letters[n])
		n++
	}
	b.WriteString(letters[n:])
	return b.String()
}
