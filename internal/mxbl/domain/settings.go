package domain

import (
	"sort"
	"strings"
)

// SettingPause is the setting that gates enforcement. Enforcement runs only
// while it is exactly "0"; an unset value keeps enforcement off.
const SettingPause = "pause"

// Settings is an immutable snapshot of the operator settings table.
type Settings struct {
	values map[string]string
}

// NewSettings copies values into a snapshot. Names are lowercased.
func NewSettings(values map[string]string) Settings {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[normalizeSettingName(k)] = v
	}
	return Settings{values: m}
}

// Get returns a setting and whether it is set.
func (s Settings) Get(name string) (string, bool) {
	v, ok := s.values[normalizeSettingName(name)]
	return v, ok
}

// All returns a copy of every setting.
func (s Settings) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Names returns setting names in sorted order.
func (s Settings) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// With returns a new snapshot with name set to value.
func (s Settings) With(name, value string) Settings {
	m := s.All()
	m[normalizeSettingName(name)] = value
	return Settings{values: m}
}

// Paused reports whether enforcement is suspended.
func (s Settings) Paused() bool {
	v, ok := s.Get(SettingPause)
	return !ok || strings.TrimSpace(v) != "0"
}

// ValidSettingName reports whether name can be stored as a setting.
func ValidSettingName(name string) bool {
	name = normalizeSettingName(name)
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func normalizeSettingName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
