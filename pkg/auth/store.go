package auth

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lkarlslund/copilot-relay/pkg/cache"
)

const (
	githubTokenFile  = "github-token"
	copilotTokenFile = "copilot-token.json"
)

// ErrNoToken is returned when a requested token is not persisted.
var ErrNoToken = errors.New("token not stored")

// StoredCopilotToken is the persisted form of the short-lived API token.
type StoredCopilotToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store persists exactly two records under a directory: the long-lived
// GitHub token as a raw secret blob and the derived Copilot token as a
// structured JSON record.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) LoadGitHubToken() (string, error) {
	token, err := cache.LoadSecret(filepath.Join(s.dir, githubTokenFile))
	if errors.Is(err, cache.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("load github token: %w", err)
	}
	return token, nil
}

func (s *Store) SaveGitHubToken(token string) error {
	if err := cache.SaveSecret(filepath.Join(s.dir, githubTokenFile), token); err != nil {
		return fmt.Errorf("save github token: %w", err)
	}
	return nil
}

func (s *Store) LoadCopilotToken() (StoredCopilotToken, error) {
	var tok StoredCopilotToken
	err := cache.LoadJSON(filepath.Join(s.dir, copilotTokenFile), &tok)
	if errors.Is(err, cache.ErrNotFound) {
		return StoredCopilotToken{}, ErrNoToken
	}
	if err != nil {
		return StoredCopilotToken{}, fmt.Errorf("load copilot token: %w", err)
	}
	if tok.Token == "" {
		return StoredCopilotToken{}, ErrNoToken
	}
	return tok, nil
}

func (s *Store) SaveCopilotToken(tok StoredCopilotToken) error {
	if err := cache.SaveJSON(filepath.Join(s.dir, copilotTokenFile), tok); err != nil {
		return fmt.Errorf("save copilot token: %w", err)
	}
	return nil
}

func (s *Store) DeleteCopilotToken() error {
	return cache.Remove(filepath.Join(s.dir, copilotTokenFile))
}

// Clear deletes both persisted tokens.
func (s *Store) Clear() error {
	if err := cache.Remove(filepath.Join(s.dir, githubTokenFile)); err != nil {
		return err
	}
	return cache.Remove(filepath.Join(s.dir, copilotTokenFile))
}
