// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package museum

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CharsPerSlide is how many exchanged characters show one slide
const CharsPerSlide = 10

// SlideResolver maps a corpus entry and a slide number to an image below Dir.
// Entry specific slides live in Dir/<entry index>/, shared ones in Dir/common/.
// Images are numbered 1.png, 2.png and so on without gaps.
type SlideResolver struct {
	Dir string
}

// SlideNumber returns the slide shown after sent characters, starting at 1
func SlideNumber(sent int) int {
	if sent <= 0 {
		return 1
	}
	return (sent-1)/CharsPerSlide + 1
}

// Resolve returns the URL path of slide n for the entry at index, cycling
// through the available images. ok is false when no slide exists.
func (r *SlideResolver) Resolve(index, n int) (string, bool) {
	if r == nil || r.Dir == "" {
		return "", false
	}
	if n < 1 {
		n = 1
	}
	for _, sub := range []string{strconv.Itoa(index), "common"} {
		count := r.count(sub)
		if count == 0 {
			continue
		}
		num := (n-1)%count + 1
		return fmt.Sprintf("slides/%s/%d.png", sub, num), true
	}
	return "", false
}

// count returns how many consecutive numbered images sub holds
func (r *SlideResolver) count(sub string) int {
	n := 0
	for {
		p := filepath.Join(r.Dir, sub, strconv.Itoa(n+1)+".png")
		if _, err := os.Stat(p); err != nil {
			return n
		}
		n++
	}
}
