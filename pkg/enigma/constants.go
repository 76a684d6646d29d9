// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import "fmt"

// Serial link defaults
const (
	DefaultDevice = "/dev/ttyACM0"
	BaudRate      = 9600
)

// Response keywords
const (
	PositionsKeyword = "Positions"
	CounterKeyword   = "Counter"
)

// Command is a two-letter Enigma Touch command code
type Command string

// Command codes. Queries are sent as "?XX", sets as "!XX value".
const (
	CmdModel          Command = "MO"
	CmdRotors         Command = "RO"
	CmdRings          Command = "RI"
	CmdPosition       Command = "RP"
	CmdPlugboard      Command = "PB"
	CmdLockModel      Command = "LM"
	CmdLockRotor      Command = "LW"
	CmdLockRing       Command = "LR"
	CmdLockPowerOff   Command = "LP"
	CmdBrightness     Command = "MB"
	CmdVolume         Command = "MV"
	CmdLoggingFormat  Command = "ML"
	CmdTimeoutBattery Command = "TB"
	CmdTimeoutPlugged Command = "TP"
	CmdTimeoutScreen  Command = "TS"
	CmdTimeoutSetup   Command = "TM"
	CmdFactoryReset   Command = "RS"
)

// Fixed wire sequences
var (
	WakeSequence      = []byte("\r\n")
	EncodeModeCommand = []byte("?MO\r\n")
	ResyncCommand     = []byte("\r?MO\r\n\r\n")
)

// Query returns the wire form of a query, preceded by a line break
func (c Command) Query() []byte {
	return []byte("\r\n?" + string(c) + "\r\n")
}

// Set returns the wire form of a set command. An empty value sends the bare command.
func (c Command) Set(value string) []byte {
	if value == "" {
		return []byte("!" + string(c) + "\r\n")
	}
	return []byte("!" + string(c) + " " + value + "\r\n")
}

// Value ranges accepted by the firmware
const (
	MinBrightness = 1
	MaxBrightness = 5
	MinVolume     = 0
	MaxVolume     = 6
	MinTimeout    = 0
	MaxTimeout    = 99
)

//////////////////////////////////////////////////////////////
// Logging format
//////////////////////////////////////////////////////////////

// LoggingFormat selects how the device prints exchanged characters
type LoggingFormat int

const (
	LogShort5 LoggingFormat = iota + 1
	LogShort4
	LogExtended5
	LogExtended4
)

func (f LoggingFormat) String() string {
	switch f {
	case LogShort5:
		return "short/5"
	case LogShort4:
		return "short/4"
	case LogExtended5:
		return "extended/5"
	case LogExtended4:
		return "extended/4"
	default:
		return fmt.Sprintf("%d", int(f))
	}
}

// Valid reports whether f is one of the four firmware formats
func (f LoggingFormat) Valid() bool {
	return f >= LogShort5 && f <= LogExtended4
}

// KioskLoggingFormat picks the extended format matching a word group size
func KioskLoggingFormat(groupSize int) LoggingFormat {
	if groupSize == 4 {
		return LogExtended4
	}
	return LogExtended5
}

//////////////////////////////////////////////////////////////
// Function mode
//////////////////////////////////////////////////////////////

// FunctionMode is how the controller currently interprets device output
type FunctionMode int

const (
	// ModeInteractive means an operator is typing on the device; frames are uppercase
	ModeInteractive FunctionMode = iota
	// ModeScriptedInteractive is a software-driven manual message; frames are lowercase
	ModeScriptedInteractive
	ModeEncode
	ModeDecode
)

func (m FunctionMode) String() string {
	switch m {
	case ModeScriptedInteractive:
		return "Message Interactive"
	case ModeEncode:
		return "Encode"
	case ModeDecode:
		return "Decode"
	default:
		return "Interactive"
	}
}

// MarshalText implements encoding.TextMarshaler
func (m FunctionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *FunctionMode) UnmarshalText(text []byte) error {
	*m = ParseFunctionMode(string(text))
	return nil
}

// ParseFunctionMode accepts the persisted names, including "Encode - EN" style suffixes
func ParseFunctionMode(s string) FunctionMode {
	switch {
	case len(s) >= 6 && s[:6] == "Encode":
		return ModeEncode
	case len(s) >= 6 && s[:6] == "Decode":
		return ModeDecode
	case s == "Message Interactive":
		return ModeScriptedInteractive
	default:
		return ModeInteractive
	}
}

// ExpectedCase is the letter case the device uses when answering in this mode
func (m FunctionMode) ExpectedCase() Case {
	if m == ModeInteractive {
		return CaseUpper
	}
	return CaseLower
}

// IsMuseum reports whether the mode belongs to the demonstration loop
func (m FunctionMode) IsMuseum() bool {
	return m == ModeEncode || m == ModeDecode
}

// Case is the letter case expected in an exchange frame
type Case int

const (
	CaseLower Case = iota
	CaseUpper
)

//////////////////////////////////////////////////////////////
// Scheduler state
//////////////////////////////////////////////////////////////

// SchedulerState is the demonstration loop state
type SchedulerState int

const (
	StateStopped SchedulerState = iota
	StateRunning
	StatePaused
	StateDisconnected
)

func (s SchedulerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDisconnected:
		return "disconnected"
	default:
		return "stopped"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s SchedulerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *SchedulerState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "running":
		*s = StateRunning
	case "paused":
		*s = StatePaused
	case "disconnected":
		*s = StateDisconnected
	case "stopped":
		*s = StateStopped
	default:
		return fmt.Errorf("unknown scheduler state %q", text)
	}
	return nil
}
