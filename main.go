// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// enigmatouch - Enigma Touch serial controller
//
// A CLI tool for configuring an Enigma Touch, encoding messages on it and
// running an unattended museum demonstration.

package main

import (
	"os"

	"github.com/Thermoquad/enigmatouch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
