// Package settings holds the user's preferences and persists them under a
// single fixed key. The in-memory copy is authoritative until Save.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Key is the storage key of the single preferences record.
const Key = "carebridge-settings"

// SchemaVersion is the current on-disk layout of Preferences.
const SchemaVersion = 1

var (
	ErrUnsupportedSchema = errors.New("settings: unsupported schema version")
	ErrInvalid           = errors.New("settings: invalid value")
)

type FontSize string

const (
	FontNormal FontSize = "normal"
	FontLarge  FontSize = "large"
	FontXLarge FontSize = "xlarge"
)

type VoiceSpeed string

const (
	SpeedSlow   VoiceSpeed = "slow"
	SpeedNormal VoiceSpeed = "normal"
	SpeedFast   VoiceSpeed = "fast"
)

type Preferences struct {
	SchemaVersion int        `json:"schemaVersion"`
	FontSize      FontSize   `json:"fontSize"`
	VoiceEnabled  bool       `json:"voiceEnabled"`
	VoiceSpeed    VoiceSpeed `json:"voiceSpeed"`
	Notifications bool       `json:"notifications"`
	DarkMode      bool       `json:"darkMode"`
	UserName      string     `json:"userName"`
	UserAge       string     `json:"userAge"`
}

func Defaults() Preferences {
	return Preferences{
		SchemaVersion: SchemaVersion,
		FontSize:      FontLarge,
		VoiceEnabled:  true,
		VoiceSpeed:    SpeedSlow,
		Notifications: true,
	}
}

func (p Preferences) Validate() error {
	switch p.FontSize {
	case FontNormal, FontLarge, FontXLarge:
	default:
		return fmt.Errorf("%w: fontSize %q", ErrInvalid, p.FontSize)
	}
	switch p.VoiceSpeed {
	case SpeedSlow, SpeedNormal, SpeedFast:
	default:
		return fmt.Errorf("%w: voiceSpeed %q", ErrInvalid, p.VoiceSpeed)
	}
	return nil
}

// decode parses a stored record. Records written before versioning (no
// schemaVersion) get defaults for any field they lack.
func decode(data []byte) (Preferences, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Preferences{}, fmt.Errorf("settings: decode: %w", err)
	}
	if probe.SchemaVersion > SchemaVersion {
		return Preferences{}, fmt.Errorf("%w: %d (supported %d)", ErrUnsupportedSchema, probe.SchemaVersion, SchemaVersion)
	}

	p := Defaults()
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("settings: decode: %w", err)
	}
	p.SchemaVersion = SchemaVersion
	if p.FontSize == "" {
		p.FontSize = FontLarge
	}
	if p.VoiceSpeed == "" {
		p.VoiceSpeed = SpeedSlow
	}
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

func encode(p Preferences) ([]byte, error) {
	p.SchemaVersion = SchemaVersion
	return json.Marshal(p)
}
