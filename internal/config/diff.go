package config

import (
	"reflect"
	"slices"

	"github.com/sesli-ai/sesli/internal/persona"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PersonasChanged bool          // true if any persona was added, removed, or edited
	PersonaChanges  []PersonaDiff // per-persona diffs, sorted by ID
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed but are only
	// read at startup, e.g. "providers" or "credentials".
	RestartRequired []string
}

// HotReloadable reports whether d holds any change the running process can
// apply.
func (d ConfigDiff) HotReloadable() bool {
	return d.PersonasChanged || d.LogLevelChanged
}

// PersonaDiff describes what changed for a single persona between two configs.
type PersonaDiff struct {
	ID             string
	PromptChanged  bool
	VoiceChanged   bool
	DetailsChanged bool // display name or description
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldByID := indexPersonas(old.Personas)
	newByID := indexPersonas(new.Personas)

	for id, op := range oldByID {
		np, exists := newByID[id]
		if !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: id, Removed: true})
			continue
		}
		pd := diffPersona(id, op, np)
		if pd.PromptChanged || pd.VoiceChanged || pd.DetailsChanged {
			d.PersonaChanges = append(d.PersonaChanges, pd)
		}
	}
	for id := range newByID {
		if _, exists := oldByID[id]; !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: id, Added: true})
		}
	}

	slices.SortFunc(d.PersonaChanges, func(a, b PersonaDiff) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	d.PersonasChanged = len(d.PersonaChanges) > 0
	d.RestartRequired = restartSections(old, new)
	return d
}

// restartSections lists the startup-only sections that differ. The log level
// is excluded from "server" because it reloads live.
func restartSections(old, new *Config) []string {
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name string
		a, b any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"credentials", old.Credentials, new.Credentials},
		{"capture", old.Capture, new.Capture},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"persona_store", old.PersonaStore, new.PersonaStore},
	}
	var out []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			out = append(out, s.name)
		}
	}
	return out
}

func indexPersonas(list []persona.Persona) map[string]*persona.Persona {
	m := make(map[string]*persona.Persona, len(list))
	for i := range list {
		m[list[i].ID] = &list[i]
	}
	return m
}

// diffPersona compares two personas with the same ID.
func diffPersona(id string, old, new *persona.Persona) PersonaDiff {
	return PersonaDiff{
		ID:             id,
		PromptChanged:  old.SystemPrompt != new.SystemPrompt,
		VoiceChanged:   old.VoiceID != new.VoiceID,
		DetailsChanged: old.DisplayName != new.DisplayName || old.Description != new.Description,
	}
}
