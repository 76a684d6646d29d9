// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator provides a software Enigma Touch. It speaks the serial
// command set and replays scripted ciphertext for known settings; it does
// not implement the cipher.
package simulator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

var (
	// ErrUnplugged is returned by every port operation while the cable is out
	ErrUnplugged = errors.New("device unplugged")
	// ErrClosed is returned when the port was closed by its owner
	ErrClosed = errors.New("port closed")
)

// Script is a known plaintext/ciphertext pair for one set of settings. A
// keystroke matching the next plaintext letter answers with the ciphertext
// letter and the other way round.
type Script struct {
	Config enigma.DeviceConfig
	Plain  string
	Coded  string
}

// Settings holds the non-cipher device settings
type Settings struct {
	LockModel      bool
	LockRotor      bool
	LockRing       bool
	LockPowerOff   bool
	Brightness     int
	Volume         int
	LoggingFormat  int
	TimeoutBattery int
	TimeoutPlugged int
	TimeoutScreen  int
	TimeoutSetup   int
}

// DefaultSettings returns the factory settings
func DefaultSettings() Settings {
	return Settings{
		Brightness:     3,
		LoggingFormat:  int(enigma.LogShort5),
		TimeoutBattery: 15,
	}
}

// Device is a software Enigma Touch usable as a transport.Port
type Device struct {
	mu      sync.Mutex
	notify  chan struct{}
	out     []byte
	line    []byte
	timeout time.Duration
	plugged bool
	open    bool

	cfg         enigma.DeviceConfig
	settings    Settings
	pos         enigma.Position
	letterStyle bool
	counter     int
	withCounter bool

	scripts  []Script
	active   *Script
	cursor   int
	startPos enigma.Position

	freeze     bool
	upper      bool
	override   []byte
	dumpNext   bool
	splitDelay time.Duration
	failWrites bool
	rejects    map[enigma.Command]string
	pressAfter int // host keystrokes left before pressKey is typed
	pressKey   byte

	keystrokes int
	dials      int
}

// New creates a plugged in device with the given cipher settings
func New(cfg enigma.DeviceConfig) *Device {
	d := &Device{
		notify:   make(chan struct{}, 1),
		timeout:  10 * time.Millisecond,
		plugged:  true,
		settings: DefaultSettings(),
		rejects:  make(map[enigma.Command]string),
	}
	d.applyConfig(cfg)
	return d
}

func (d *Device) applyConfig(cfg enigma.DeviceConfig) {
	d.cfg = cfg
	pos, letters, ok := parsePositionText(cfg.RingPosition, enigma.RotorCount(cfg.Model))
	if !ok {
		pos = make(enigma.Position, enigma.RotorCount(cfg.Model))
		for i := range pos {
			pos[i] = 1
		}
	}
	d.pos = pos
	d.letterStyle = letters
	d.resetScript()
}

func (d *Device) resetScript() {
	d.active = nil
	d.cursor = 0
	d.startPos = append(enigma.Position(nil), d.pos...)
}

//////////////////////////////////////////////////////////////
// Port
//////////////////////////////////////////////////////////////

// Dialer returns a transport.Dialer that opens this device
func (d *Device) Dialer() transport.Dialer {
	return func() (transport.Port, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.dials++
		if !d.plugged {
			return nil, ErrUnplugged
		}
		d.open = true
		d.out = nil
		d.line = nil
		return d, nil
	}
}

func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if err := d.checkLocked(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if len(d.out) > 0 {
		n := copy(p, d.out)
		d.out = d.out[n:]
		d.mu.Unlock()
		return n, nil
	}
	timeout := d.timeout
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.notify:
	case <-timer.C:
		return 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return 0, err
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return 0, err
	}
	if d.failWrites {
		return 0, ErrUnplugged
	}
	for _, c := range p {
		d.feed(c)
	}
	return len(p), nil
}

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	d.out = nil
	return nil
}

func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = t
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *Device) checkLocked() error {
	if !d.plugged {
		return ErrUnplugged
	}
	if !d.open {
		return ErrClosed
	}
	return nil
}

func (d *Device) emitLocked(s string) {
	d.out = append(d.out, s...)
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

//////////////////////////////////////////////////////////////
// Input handling
//////////////////////////////////////////////////////////////

func (d *Device) feed(c byte) {
	switch {
	case c == '\r' || c == '\n':
		if len(d.line) > 0 {
			d.handleLine(string(d.line))
			d.line = nil
		}
	case len(d.line) == 0 && isLetter(c):
		d.keystroke(c, d.upper, false)
	default:
		d.line = append(d.line, c)
	}
}

func (d *Device) handleLine(line string) {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return
	}
	cmd := enigma.Command(strings.ToUpper(line[1:3]))
	value := strings.TrimSpace(line[3:])

	switch line[0] {
	case '?':
		d.emitLocked(line + "\r\n" + d.queryReply(cmd))
	case '!':
		if msg, ok := d.rejects[cmd]; ok {
			d.emitLocked(line + "\r\n^\r\n*** " + msg + "\r\n")
			return
		}
		if msg := d.set(cmd, value); msg != "" {
			d.emitLocked(line + "\r\n^\r\n*** " + msg + "\r\n")
			return
		}
		if cmd == enigma.CmdFactoryReset {
			d.emitLocked(line + "\r\n" + d.dump())
			return
		}
		d.emitLocked(line + "\r\n" + d.queryReply(cmd))
	}
}

func (d *Device) queryReply(cmd enigma.Command) string {
	s := d.settings
	switch cmd {
	case enigma.CmdModel:
		return "Enigma " + d.cfg.Model + "\r\n"
	case enigma.CmdRotors:
		parts := strings.Fields(d.cfg.RotorOrder)
		if len(parts) == 0 {
			return "Reflector -\r\nRotors -\r\n"
		}
		return "Reflector " + parts[0] + "\r\nRotors " + strings.Join(parts[1:], " ") + "\r\n"
	case enigma.CmdRings:
		return "Rings " + d.cfg.RingSettings + "\r\n"
	case enigma.CmdPosition:
		return "Positions " + d.positionText() + "\r\n"
	case enigma.CmdPlugboard:
		if d.cfg.Plugboard == "" {
			return "Plugboard clear\r\n"
		}
		return "Plugboard " + d.cfg.Plugboard + "\r\n"
	case enigma.CmdLockModel:
		return "Lock model " + onOff(s.LockModel) + "\r\n"
	case enigma.CmdLockRotor:
		return "Lock wheels " + onOff(s.LockRotor) + "\r\n"
	case enigma.CmdLockRing:
		return "Lock rings " + onOff(s.LockRing) + "\r\n"
	case enigma.CmdLockPowerOff:
		return "Lock power " + onOff(s.LockPowerOff) + "\r\n"
	case enigma.CmdBrightness:
		return fmt.Sprintf("Brightness %d\r\n", s.Brightness)
	case enigma.CmdVolume:
		return fmt.Sprintf("Volume %d\r\n", s.Volume)
	case enigma.CmdLoggingFormat:
		return fmt.Sprintf("Logging %d\r\n", s.LoggingFormat)
	case enigma.CmdTimeoutBattery:
		return fmt.Sprintf("Timeout battery %d\r\n", s.TimeoutBattery)
	case enigma.CmdTimeoutPlugged:
		return fmt.Sprintf("Timeout plugged %d\r\n", s.TimeoutPlugged)
	case enigma.CmdTimeoutScreen:
		return fmt.Sprintf("Timeout screensaver %d\r\n", s.TimeoutScreen)
	case enigma.CmdTimeoutSetup:
		return fmt.Sprintf("Timeout setup %d\r\n", s.TimeoutSetup)
	default:
		return "^\r\n*** Unknown command\r\n"
	}
}

var knownModels = map[string]bool{"I": true, "M3": true, "M4": true}

// set applies a set command. It returns the firmware error message on failure.
func (d *Device) set(cmd enigma.Command, value string) string {
	rc := enigma.RotorCount(d.cfg.Model)
	switch cmd {
	case enigma.CmdModel:
		if !knownModels[strings.ToUpper(value)] {
			return "Invalid model"
		}
		cfg := d.cfg
		cfg.Model = strings.ToUpper(value)
		d.applyConfig(cfg)
	case enigma.CmdRotors:
		if len(strings.Fields(value)) != rc+1 {
			return "Invalid rotor set"
		}
		d.cfg.RotorOrder = value
		d.resetScript()
	case enigma.CmdRings:
		if _, _, ok := parsePositionText(value, rc); !ok {
			return "Invalid ring settings"
		}
		d.cfg.RingSettings = value
		d.resetScript()
	case enigma.CmdPosition:
		pos, letters, ok := parsePositionText(value, rc)
		if !ok {
			return "Invalid positions"
		}
		d.cfg.RingPosition = value
		d.pos = pos
		d.letterStyle = letters
		d.resetScript()
	case enigma.CmdPlugboard:
		if !validPlugboard(value) {
			return "Invalid plugboard"
		}
		d.cfg.Plugboard = strings.ToUpper(value)
		d.resetScript()
	case enigma.CmdLockModel, enigma.CmdLockRotor, enigma.CmdLockRing, enigma.CmdLockPowerOff:
		v, ok := parseFlag(value)
		if !ok {
			return "Invalid value"
		}
		switch cmd {
		case enigma.CmdLockModel:
			d.settings.LockModel = v
		case enigma.CmdLockRotor:
			d.settings.LockRotor = v
		case enigma.CmdLockRing:
			d.settings.LockRing = v
		default:
			d.settings.LockPowerOff = v
		}
	case enigma.CmdBrightness:
		return setRange(&d.settings.Brightness, value, enigma.MinBrightness, enigma.MaxBrightness)
	case enigma.CmdVolume:
		return setRange(&d.settings.Volume, value, enigma.MinVolume, enigma.MaxVolume)
	case enigma.CmdLoggingFormat:
		return setRange(&d.settings.LoggingFormat, value, int(enigma.LogShort5), int(enigma.LogExtended4))
	case enigma.CmdTimeoutBattery:
		return setRange(&d.settings.TimeoutBattery, value, enigma.MinTimeout, enigma.MaxTimeout)
	case enigma.CmdTimeoutPlugged:
		return setRange(&d.settings.TimeoutPlugged, value, enigma.MinTimeout, enigma.MaxTimeout)
	case enigma.CmdTimeoutScreen:
		return setRange(&d.settings.TimeoutScreen, value, enigma.MinTimeout, enigma.MaxTimeout)
	case enigma.CmdTimeoutSetup:
		return setRange(&d.settings.TimeoutSetup, value, enigma.MinTimeout, enigma.MaxTimeout)
	case enigma.CmdFactoryReset:
		d.settings = DefaultSettings()
		d.counter = 0
		d.applyConfig(enigma.DefaultDeviceConfig())
	default:
		return "Unknown command"
	}
	return ""
}

// dump renders the settings summary printed after a reset
func (d *Device) dump() string {
	var b strings.Builder
	for _, cmd := range []enigma.Command{enigma.CmdModel, enigma.CmdRotors, enigma.CmdRings, enigma.CmdPosition, enigma.CmdPlugboard} {
		b.WriteString(d.queryReply(cmd))
	}
	return b.String()
}

//////////////////////////////////////////////////////////////
// Keystrokes
//////////////////////////////////////////////////////////////

// keystroke answers one letter. Operator keystrokes bypass the scripts.
func (d *Device) keystroke(c byte, upper, operator bool) {
	in := upperLetter(c)
	var out byte
	if operator {
		out = 'A' + (in-'A'+13)%26
	} else {
		d.keystrokes++
		out = d.answer(in)
		if d.pressAfter > 0 {
			d.pressAfter--
			if d.pressAfter == 0 {
				defer d.keystroke(d.pressKey, true, true)
			}
		}
	}

	if !d.freeze {
		d.step()
		d.counter++
	}

	frame := fmt.Sprintf("%c %c %s %s", in, out, enigma.PositionsKeyword, d.positionText())
	if d.withCounter {
		frame += fmt.Sprintf(" %s %d", enigma.CounterKeyword, d.counter)
	}
	if !upper {
		frame = strings.ToLower(frame[:3]) + frame[3:]
	}
	frame += "\r\n"

	if d.dumpNext {
		d.dumpNext = false
		frame = d.dump() + frame
	}

	if d.splitDelay > 0 && len(frame) > 8 {
		head, tail := frame[:4], frame[4:]
		d.emitLocked(head)
		time.AfterFunc(d.splitDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.open && d.plugged {
				d.emitLocked(tail)
			}
		})
		return
	}
	d.emitLocked(frame)
}

// answer picks the output letter for a keystroke
func (d *Device) answer(in byte) byte {
	if len(d.override) > 0 {
		out := d.override[0]
		d.override = d.override[1:]
		return out
	}

	if d.active == nil && d.cursor == 0 {
		d.active = d.findScript()
	}
	if s := d.active; s != nil && d.cursor < len(s.Plain) && d.cursor < len(s.Coded) {
		i := d.cursor
		switch in {
		case s.Plain[i]:
			d.cursor++
			return s.Coded[i]
		case s.Coded[i]:
			d.cursor++
			return s.Plain[i]
		}
	}
	d.active = nil
	d.cursor = -1
	return 'A' + (in-'A'+13)%26
}

func (d *Device) findScript() *Script {
	for i := range d.scripts {
		s := &d.scripts[i]
		if !sameSettings(s.Config, d.cfg) {
			continue
		}
		pos, _, ok := parsePositionText(s.Config.RingPosition, enigma.RotorCount(d.cfg.Model))
		if ok && pos.Equal(d.startPos) {
			return s
		}
	}
	return nil
}

// step advances the rotors like an odometer, rightmost first
func (d *Device) step() {
	for i := len(d.pos) - 1; i >= 0; i-- {
		d.pos[i]++
		if d.pos[i] <= 26 {
			return
		}
		d.pos[i] = 1
	}
}

func (d *Device) positionText() string {
	parts := make([]string, len(d.pos))
	for i, v := range d.pos {
		if d.letterStyle {
			parts[i] = string(rune('A' + v - 1))
		} else {
			parts[i] = fmt.Sprintf("%02d", v)
		}
	}
	return strings.Join(parts, " ")
}

//////////////////////////////////////////////////////////////
// Test hooks
//////////////////////////////////////////////////////////////

// SetScripts replaces the known plaintext/ciphertext pairs
func (d *Device) SetScripts(scripts []Script) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = make([]Script, len(scripts))
	for i, s := range scripts {
		s.Plain = enigma.FilterMessage(s.Plain)
		s.Coded = enigma.FilterMessage(s.Coded)
		d.scripts[i] = s
	}
	d.resetScript()
}

// FreezePositions stops the rotors and the counter from advancing
func (d *Device) FreezePositions(freeze bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeze = freeze
}

// SetUppercase makes the device answer keystrokes in uppercase
func (d *Device) SetUppercase(upper bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upper = upper
}

// EnableCounter appends a Counter field to every frame
func (d *Device) EnableCounter(enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.withCounter = enable
}

// OverrideOutput forces the next output letters regardless of input
func (d *Device) OverrideOutput(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.override = []byte(enigma.FilterMessage(text))
}

// DumpBeforeNextResult prints the settings summary ahead of the next frame
func (d *Device) DumpBeforeNextResult() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dumpNext = true
}

// SplitFrames emits every frame in two bursts separated by delay
func (d *Device) SplitFrames(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.splitDelay = delay
}

// FailWrites makes writes fail while the port stays plugged
func (d *Device) FailWrites(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = fail
}

// Reject makes a set command answer with an error banner
func (d *Device) Reject(cmd enigma.Command, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if message == "" {
		delete(d.rejects, cmd)
		return
	}
	d.rejects[cmd] = message
}

// Press simulates an operator typing c on the device itself
func (d *Device) Press(c byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open && d.plugged {
		d.keystroke(c, true, true)
	}
}

// PressAfterKeystroke makes the operator type c right behind the frame
// answering the nth host keystroke from now
func (d *Device) PressAfterKeystroke(n int, c byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pressAfter = n
	d.pressKey = c
}

// Emit writes text to the host as if the device printed it on its own
func (d *Device) Emit(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open && d.plugged {
		d.emitLocked(text)
	}
}

// Unplug pulls the cable
func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugged = false
	d.open = false
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Plug reconnects the cable. The port must be dialed again.
func (d *Device) Plug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugged = true
}

// Keystrokes returns how many letter keystrokes the host sent
func (d *Device) Keystrokes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keystrokes
}

// Dials returns how many times the port was opened or attempted
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Config returns the active cipher settings
func (d *Device) Config() enigma.DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.cfg
	cfg.RingPosition = d.positionText()
	return cfg
}

// Settings returns the non-cipher settings
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func parsePositionText(text string, rotorCount int) (enigma.Position, bool, bool) {
	tokens := enigma.Tokenize(text)
	if len(tokens) != rotorCount {
		return nil, false, false
	}
	pos, ok := enigma.ParsePositions(tokens, 0, rotorCount)
	if !ok {
		return nil, false, false
	}
	letters := len(tokens[0]) == 1 && isLetter(tokens[0][0])
	return pos, letters, true
}

func sameSettings(a, b enigma.DeviceConfig) bool {
	norm := func(s string) string { return strings.ToUpper(strings.Join(strings.Fields(s), " ")) }
	if norm(a.Model) != norm(b.Model) || norm(a.RotorOrder) != norm(b.RotorOrder) || norm(a.Plugboard) != norm(b.Plugboard) {
		return false
	}
	rc := enigma.RotorCount(a.Model)
	ra, _, okA := parsePositionText(a.RingSettings, rc)
	rb, _, okB := parsePositionText(b.RingSettings, rc)
	return okA && okB && ra.Equal(rb)
}

func validPlugboard(value string) bool {
	seen := make(map[byte]bool)
	for _, pair := range strings.Fields(strings.ToUpper(value)) {
		if len(pair) != 2 || !isLetter(pair[0]) || !isLetter(pair[1]) || pair[0] == pair[1] {
			return false
		}
		if seen[pair[0]] || seen[pair[1]] {
			return false
		}
		seen[pair[0]], seen[pair[1]] = true, true
	}
	return true
}

func parseFlag(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "1", "on", "yes", "true":
		return true, true
	case "0", "off", "no", "false":
		return false, true
	}
	return false, false
}

func setRange(dst *int, value string, lo, hi int) string {
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return fmt.Sprintf("Value out of range %d-%d", lo, hi)
	}
	*dst = n
	return ""
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func upperLetter(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
