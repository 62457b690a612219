package config_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/luna/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VoiceAndShortcutsAreLive(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Processor.Voice = config.VoiceConfig{ID: "bella", Speed: 1.2}
	new.Assistant.Shortcuts = []string{"goodnight"}

	d := config.Diff(old, new)
	if !d.VoiceChanged || d.NewVoice.ID != "bella" {
		t.Errorf("voice diff = %v / %+v", d.VoiceChanged, d.NewVoice)
	}
	if !d.ShortcutsChanged || len(d.NewShortcuts) != 1 {
		t.Errorf("shortcut diff = %v / %v", d.ShortcutsChanged, d.NewShortcuts)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Router.Timeout = time.Second
	new.Providers.TTS.Name = "elevenlabs"
	new.Processor.QueueCapacity = 4
	new.Assistant.UserName = "ada"

	d := config.Diff(old, new)
	want := []string{"server", "router", "providers", "processor", "assistant"}
	if diff := cmp.Diff(want, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired (-want +got):\n%s", diff)
	}
	if d.LogLevelChanged || d.VoiceChanged || d.ShortcutsChanged {
		t.Errorf("unexpected live changes: %+v", d)
	}
}
