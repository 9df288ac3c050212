// Package auth issues and revokes the opaque bearer tokens that gate the API.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// Store keeps the set of valid tokens and mirrors it to a JSON file so that
// issued tokens survive restarts.
type Store struct {
	mu       sync.Mutex
	path     string
	password string
	tokens   map[string]struct{}
	newToken func() string
}

// Open loads the token file at path. A missing or unreadable file starts an
// empty set. An empty path keeps tokens in memory only.
func Open(path, password string) *Store {
	s := &Store{
		path:     path,
		password: password,
		tokens:   make(map[string]struct{}),
		newToken: uuid.NewString,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("component", "auth").Str("path", s.path).Msg("token file unreadable, starting empty")
		}
		return
	}

	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		log.Warn().Err(err).Str("component", "auth").Str("path", s.path).Msg("token file corrupt, starting empty")
		return
	}

	for _, t := range tokens {
		if t != "" {
			s.tokens[t] = struct{}{}
		}
	}
	log.Info().Str("component", "auth").Int("tokens", len(s.tokens)).Msg("token set restored")
}

// Login checks password against the configured secret and issues a new token.
func (s *Store) Login(password string) (string, error) {
	if s.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return "", ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	for {
		token = s.newToken()
		if _, taken := s.tokens[token]; !taken && token != "" {
			break
		}
	}
	s.tokens[token] = struct{}{}

	if err := s.persistLocked(); err != nil {
		delete(s.tokens, token)
		return "", err
	}
	return token, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (s *Store) Logout(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; !ok {
		return nil
	}
	delete(s.tokens, token)
	return s.persistLocked()
}

// IsValid reports whether token is currently issued.
func (s *Store) IsValid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

// Count returns the number of valid tokens.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// persistLocked overwrites the token file with the full set. The write goes
// to a sibling temp file first so readers never observe a partial array.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	tokens := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	data, err := json.Marshal(tokens)
	if err != nil {
		return errors.Wrap(err, "marshal token set")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp token file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write token file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync token file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close token file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace token file")
	}
	return nil
}
