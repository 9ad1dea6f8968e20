package persona

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. Its contents are replaced
// wholesale by [MemStore.Replace], which is how configuration hot reload
// updates the persona list.
type MemStore struct {
	mu       sync.RWMutex
	personas []Persona
	byID     map[string]int
}

// NewMemStore returns a MemStore holding personas, in order.
func NewMemStore(personas []Persona) *MemStore {
	s := &MemStore{}
	s.Replace(personas)
	return s
}

// Replace swaps the stored personas for the given list. Later duplicates of an
// ID replace earlier ones in place.
func (s *MemStore) Replace(personas []Persona) {
	list := make([]Persona, 0, len(personas))
	byID := make(map[string]int, len(personas))
	for _, p := range personas {
		if i, ok := byID[p.ID]; ok {
			list[i] = p
			continue
		}
		byID[p.ID] = len(list)
		list = append(list, p)
	}

	s.mu.Lock()
	s.personas = list
	s.byID = byID
	s.mu.Unlock()
}

// List implements [Store.List]. The returned slice is a copy.
func (s *MemStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, len(s.personas))
	copy(out, s.personas)
	return out, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Persona{}, ErrNotFound
	}
	return s.personas[i], nil
}

// File is the top-level structure of a persona YAML file.
//
// Example:
//
//	personas:
//	  - id: chef
//	    name: "Şef"
//	    description: "Yemek tarifleri veren bir agent"
//	    prompt: "Sen deneyimli bir aşçısın."
//	    voice: onyx
type File struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads and validates a persona YAML file from disk.
func LoadFile(path string) ([]Persona, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	personas, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return personas, nil
}

// LoadFromReader parses persona YAML from an [io.Reader] and validates every
// entry. Unknown fields are rejected.
func LoadFromReader(r io.Reader) ([]Persona, error) {
	var pf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("persona: decode yaml: %w", err)
	}
	for i := range pf.Personas {
		if err := pf.Personas[i].Validate(); err != nil {
			return nil, fmt.Errorf("persona: entry %d: %w", i, err)
		}
	}
	return pf.Personas, nil
}
