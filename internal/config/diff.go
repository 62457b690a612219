package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only log level,
// voice, shortcuts and speech levels are applied live; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     VoiceConfig

	ShortcutsChanged bool
	NewShortcuts     []string

	// RestartRequired names the top-level sections whose changes take
	// effect only after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.ShortcutsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Processor.Voice != new.Processor.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Processor.Voice
	}
	if !slices.Equal(old.Assistant.Shortcuts, new.Assistant.Shortcuts) {
		d.ShortcutsChanged = true
		d.NewShortcuts = new.Assistant.Shortcuts
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"settings", old.Settings, new.Settings},
		{"router", old.Router, new.Router},
		{"providers", old.Providers, new.Providers},
		{"listening", old.Listening, new.Listening},
		{"mcp", old.MCP, new.MCP},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	oldProc, newProc := old.Processor, new.Processor
	oldProc.Voice, newProc.Voice = VoiceConfig{}, VoiceConfig{}
	if oldProc != newProc {
		d.RestartRequired = append(d.RestartRequired, "processor")
	}

	oldAsst, newAsst := old.Assistant, new.Assistant
	oldAsst.Shortcuts, newAsst.Shortcuts = nil, nil
	if !reflect.DeepEqual(oldAsst, newAsst) {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	return d
}
