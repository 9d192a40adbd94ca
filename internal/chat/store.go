package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Store persists custom text commands as a JSON object on disk, loaded on
// start and saved on every mutation.
type Store struct {
	path string

	mu       sync.Mutex
	commands map[string]string
}

func NewStore(path string) *Store {
	return &Store{
		path:     path,
		commands: make(map[string]string),
	}
}

// Load reads the command file. A missing file is not an error; the store
// starts empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read command file %s: %w", s.path, err)
	}

	commands := make(map[string]string)
	if err := json.Unmarshal(data, &commands); err != nil {
		return fmt.Errorf("failed to parse command file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.commands = commands
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.commands, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode commands: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write command file %s: %w", s.path, err)
	}
	return nil
}

// Get returns the response text for a command name.
func (s *Store) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.commands[name]
	return response, ok
}

// Set adds or replaces a command and persists the store.
func (s *Store) Set(name, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[name] = response
	return s.save()
}

// Delete removes a command and persists the store. Deleting an unknown
// command is a no-op.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[name]; !ok {
		return nil
	}
	delete(s.commands, name)
	return s.save()
}

// All returns a copy of the command map.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.commands))
	for k, v := range s.commands {
		out[k] = v
	}
	return out
}
