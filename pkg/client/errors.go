// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

// ErrNoResponse means the device stayed silent or the link failed
var ErrNoResponse = errors.New("no response from device")

// DeviceError is a setting rejected by the firmware
type DeviceError struct {
	Command enigma.Command
	Value   string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected !%s %s: %s", e.Command, e.Value, e.Message)
}

// RangeError is a value refused before it was sent
type RangeError struct {
	Setting string
	Value   int
	Min     int
	Max     int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d out of range %d-%d", e.Setting, e.Value, e.Min, e.Max)
}

// ConfigError lists every field that failed during a composite apply
type ConfigError struct {
	Fields []string
}

func (e *ConfigError) Error() string {
	return "configuration errors: " + strings.Join(e.Fields, ", ")
}
