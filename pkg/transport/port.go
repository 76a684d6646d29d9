// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is a byte stream to an Enigma Touch. Read returns (0, nil) when the
// read timeout expires without data.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Dialer opens a fresh Port. It is called again on every reconnect.
type Dialer func() (Port, error)

type outputResetter interface {
	ResetOutputBuffer() error
}

// OpenSerial opens a serial device in 8N1 mode
func OpenSerial(device string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	return port, nil
}

// SerialDialer returns a Dialer for a serial device
func SerialDialer(device string, baudRate int) Dialer {
	return func() (Port, error) {
		return OpenSerial(device, baudRate)
	}
}

// ListSerialPorts returns the serial devices present on the system
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
