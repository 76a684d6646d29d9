// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import "testing"

func TestFilterMessage(t *testing.T) {
	if got := FilterMessage("Hello, World 42!"); got != "HELLOWORLD" {
		t.Errorf("expected HELLOWORLD, got %q", got)
	}
}

func TestGroupText(t *testing.T) {
	tests := []struct {
		text string
		size int
		want string
	}{
		{"ABCDEFGHIJKL", 5, "ABCDE FGHIJ KL"},
		{"ABCDEFGH", 4, "ABCD EFGH"},
		{"", 5, ""},
		{"ABC", 0, "ABC"},
	}
	for _, tt := range tests {
		if got := GroupText(tt.text, tt.size); got != tt.want {
			t.Errorf("GroupText(%q, %d) = %q, want %q", tt.text, tt.size, got, tt.want)
		}
	}
}

func TestFormatForDisplay_KeepsSpacedText(t *testing.T) {
	if got := FormatForDisplay("HELLO WORLD", 5); got != "HELLO WORLD" {
		t.Errorf("expected spaced text unchanged, got %q", got)
	}
	if got := FormatForDisplay("HELLOWORLD", 5); got != "HELLO WORLD" {
		t.Errorf("expected grouped text, got %q", got)
	}
}

func TestNormalizeForCompare(t *testing.T) {
	if got := NormalizeForCompare(" xqplm  abc\r\n"); got != "XQPLMABC" {
		t.Errorf("expected XQPLMABC, got %q", got)
	}
}

func TestRestoreSpaces(t *testing.T) {
	tests := []struct {
		decoded  string
		original string
		want     string
	}{
		{"HELLOWORLD", "HELLO WORLD", "HELLO WORLD"},
		{"HELLO WORLD", "HELLO WORLD", "HELLO WORLD"},
		{"HELLOW", "HELLO WORLD", "HELLO W"},
		{"HELLO", "HELLO WORLD", "HELLO"},
		{"ABCDEFG", "AB CD", "AB CDEFG"},
		{"", "HELLO WORLD", ""},
	}
	for _, tt := range tests {
		if got := RestoreSpaces(tt.decoded, tt.original); got != tt.want {
			t.Errorf("RestoreSpaces(%q, %q) = %q, want %q", tt.decoded, tt.original, got, tt.want)
		}
	}
}
