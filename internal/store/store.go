package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	ErrNotFound     = errors.New("preference not found")
	ErrInvalidTheme = errors.New("invalid theme")
)

const maxThemeLen = 64

// Preferences holds operator choices that outlive a session, such as the
// overlay theme picked for a tournament. It shares nothing with match state.
type Preferences interface {
	Theme(ctx context.Context, tournamentID string) (string, error)
	SetTheme(ctx context.Context, tournamentID, theme string) error
}

// NormalizeTheme trims theme and rejects empty or oversized names.
func NormalizeTheme(theme string) (string, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" || utf8.RuneCountInString(theme) > maxThemeLen {
		return "", ErrInvalidTheme
	}
	return theme, nil
}

type Memory struct {
	mu     sync.RWMutex
	themes map[string]string
}

func NewMemory() *Memory {
	return &Memory{themes: make(map[string]string)}
}

func (m *Memory) Theme(_ context.Context, tournamentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.themes[tournamentID]
	if !ok {
		return "", ErrNotFound
	}
	return t, nil
}

func (m *Memory) SetTheme(_ context.Context, tournamentID, theme string) error {
	theme, err := NormalizeTheme(theme)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themes[tournamentID] = theme
	return nil
}
