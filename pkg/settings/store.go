// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ENIGMA_MUSEUM_DELAY
const EnvPrefix = "ENIGMA"

// ErrUnknownKey is returned by Set for a key that is not a setting
var ErrUnknownKey = errors.New("unknown setting")

// Store reads and writes one settings file
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store for path
func NewStore(path string, logger zerolog.Logger) *Store {
	if path == "" {
		path = DefaultFile
	}
	return &Store{path: path, logger: logger}
}

// Path returns the settings file path
func (s *Store) Path() string {
	return s.path
}

// newViper returns a viper instance seeded with every default so that
// environment overrides apply to all keys
func newViper() *viper.Viper {
	v := viper.New()
	var defaults map[string]any
	if err := mapstructure.Decode(Defaults(), &defaults); err == nil {
		for key, value := range flatten("", defaults) {
			v.SetDefault(key, value)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// flatten turns nested maps into dotted viper keys
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// readInto loads the file into v. A missing file is not an error.
func (s *Store) readInto(v *viper.Viper) error {
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			s.logger.Debug().Str("path", s.path).Msg("Settings file not found, using defaults")
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (Settings, error) {
	var out Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		flexibleBoolHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&out, hook); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}

// Load reads the settings file, falling back to defaults for missing keys
func (s *Store) Load() (Settings, error) {
	v := newViper()
	if err := s.readInto(v); err != nil {
		return Defaults(), err
	}
	return decode(v)
}

// LoadPreservingDevice reloads the file but keeps the device in cur
func (s *Store) LoadPreservingDevice(cur Settings) (Settings, error) {
	onDisk, err := s.Load()
	if err != nil {
		return cur, err
	}
	return MergePreservingDevice(onDisk, cur), nil
}

// LoadPreservingCipherConfig reloads the file but keeps the cipher settings
// in cur, which mirror what the device was last told
func (s *Store) LoadPreservingCipherConfig(cur Settings) (Settings, error) {
	onDisk, err := s.Load()
	if err != nil {
		return cur, err
	}
	merged := onDisk
	merged.Config = cur.Config
	return merged, nil
}

// LoadPreservingFunctionMode reloads the file but keeps the function mode in cur
func (s *Store) LoadPreservingFunctionMode(cur Settings) (Settings, error) {
	onDisk, err := s.Load()
	if err != nil {
		return cur, err
	}
	return MergePreservingFunctionMode(onDisk, cur), nil
}

// Save writes cur, keeping the saved ring position and always_send_config
func (s *Store) Save(cur Settings) error {
	onDisk, err := s.Load()
	if err != nil {
		return err
	}
	merged := MergePreservingRingPosition(onDisk, cur)
	merged = MergePreservingAlwaysSendConfig(onDisk, merged)
	return s.Write(merged)
}

// SaveWithPosition writes cur including its ring position
func (s *Store) SaveWithPosition(cur Settings) error {
	onDisk, err := s.Load()
	if err != nil {
		return err
	}
	return s.Write(MergePreservingAlwaysSendConfig(onDisk, cur))
}

// SavePreservingCipherConfig writes cur without touching the cipher settings
func (s *Store) SavePreservingCipherConfig(cur Settings) error {
	onDisk, err := s.Load()
	if err != nil {
		return err
	}
	merged := MergePreservingCipherConfig(onDisk, cur)
	merged = MergePreservingAlwaysSendConfig(onDisk, merged)
	return s.Write(merged)
}

// Write stores cur as is
func (s *Store) Write(cur Settings) error {
	if err := WriteJSON(s.path, cur); err != nil {
		return err
	}
	s.logger.Debug().Str("path", s.path).Msg("Settings saved")
	return nil
}

// Set changes one key, e.g. "museum_delay" or "config.rotor_set", and saves
// the file. Values go through the same decoding as the file itself.
func (s *Store) Set(key, value string) (Settings, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	v := newViper()
	if !contains(Keys(), key) {
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := s.readInto(v); err != nil {
		return Settings{}, err
	}
	v.Set(key, value)

	cur, err := decode(v)
	if err != nil {
		return Settings{}, err
	}
	if err := cur.Validate(); err != nil {
		return Settings{}, err
	}
	return cur, s.Write(cur)
}

// Keys lists every settings key in dotted form
func Keys() []string {
	var m map[string]any
	if err := mapstructure.Decode(Defaults(), &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range flatten("", m) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WriteJSON writes v as indented JSON through a temporary file so a crash
// never leaves a truncated file behind
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Decoding
//////////////////////////////////////////////////////////////

// ParseBool accepts the spellings found in hand-edited files
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "y", "t":
		return true, true
	case "false", "0", "no", "off", "n", "f", "":
		return false, true
	}
	return false, false
}

// flexibleBoolHook converts strings and numbers into bools
func flexibleBoolHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Bool {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			b, ok := ParseBool(data.(string))
			if !ok {
				return nil, fmt.Errorf("invalid boolean %q", data)
			}
			return b, nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.ValueOf(data).Int() != 0, nil
		case reflect.Float32, reflect.Float64:
			return reflect.ValueOf(data).Float() != 0, nil
		}
		return data, nil
	}
}

// Values returns every setting keyed like Keys
func (s Settings) Values() map[string]any {
	var m map[string]any
	if err := mapstructure.Decode(s, &m); err != nil {
		return nil
	}
	return flatten("", m)
}

// FormatValue renders a value for "config show"
func FormatValue(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
