package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Preferences are the locally persisted chat settings
type Preferences struct {
	SoundEnabled bool `json:"sound_enabled"`
}

func DefaultPreferences() Preferences {
	return Preferences{SoundEnabled: true}
}

// DefaultPreferencePath is <user config dir>/kakehashi/chat.json
func DefaultPreferencePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kakehashi", "chat.json"), nil
}

// PreferenceStore reads and writes Preferences as a JSON file
type PreferenceStore struct {
	mu   sync.Mutex
	path string
}

func NewPreferenceStore(path string) *PreferenceStore {
	return &PreferenceStore{path: path}
}

// Load returns DefaultPreferences when the file does not exist yet
func (s *PreferenceStore) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to read preferences: %w", err)
	}
	p := DefaultPreferences()
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to parse preferences: %w", err)
	}
	return p, nil
}

// Save replaces the file atomically
func (s *PreferenceStore) Save(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preference dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Notifier is told about inbound messages from other users
type Notifier interface {
	Notify()
}

// Player makes the actual sound
type Player interface {
	Play() error
}

// BellPlayer rings the terminal bell
type BellPlayer struct {
	W io.Writer
}

func (b BellPlayer) Play() error {
	_, err := b.W.Write([]byte("\a"))
	return err
}

// SoundNotifier plays a sound when the persisted preference allows it
type SoundNotifier struct {
	store  *PreferenceStore
	player Player
	logger *log.Logger

	mu      sync.RWMutex
	enabled bool
}

func NewSoundNotifier(store *PreferenceStore, player Player, logger *log.Logger) (*SoundNotifier, error) {
	if logger == nil {
		logger = log.Default()
	}
	prefs, err := store.Load()
	n := &SoundNotifier{store: store, player: player, logger: logger, enabled: prefs.SoundEnabled}
	return n, err
}

func (n *SoundNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// SetEnabled toggles the sound and persists the choice
func (n *SoundNotifier) SetEnabled(enabled bool) error {
	n.mu.Lock()
	n.enabled = enabled
	n.mu.Unlock()
	return n.store.Save(Preferences{SoundEnabled: enabled})
}

func (n *SoundNotifier) Notify() {
	if !n.Enabled() {
		return
	}
	if err := n.player.Play(); err != nil {
		n.logger.Printf("Notification sound failed: %v", err)
	}
}
