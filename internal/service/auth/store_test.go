package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLoginIssuesValidToken(t *testing.T) {
	store := Open(filepath.Join(t.TempDir(), "tokens.json"), "123456")

	token, err := store.Login("123456")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, store.IsValid(token))
	require.False(t, store.IsValid("someone-else"))
	require.False(t, store.IsValid(""))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	store := Open("", "123456")

	_, err := store.Login("654321")
	require.True(t, errors.Is(err, ErrInvalidCredentials))
	require.Zero(t, store.Count())
}

func TestLoginRejectsWhenNoSecretConfigured(t *testing.T) {
	store := Open("", "")

	_, err := store.Login("")
	require.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestTokensSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	first := Open(path, "123456")

	kept, err := first.Login("123456")
	require.NoError(t, err)
	revoked, err := first.Login("123456")
	require.NoError(t, err)
	require.NoError(t, first.Logout(revoked))

	second := Open(path, "123456")
	require.True(t, second.IsValid(kept))
	require.False(t, second.IsValid(revoked))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, []string{kept}, onDisk)
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := Open(filepath.Join(t.TempDir(), "tokens.json"), "123456")
	token, err := store.Login("123456")
	require.NoError(t, err)

	require.NoError(t, store.Logout(token))
	require.NoError(t, store.Logout(token))
	require.NoError(t, store.Logout("never-issued"))
	require.False(t, store.IsValid(token))
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := Open(path, "123456")
	require.Zero(t, store.Count())

	token, err := store.Login("123456")
	require.NoError(t, err)
	require.True(t, Open(path, "123456").IsValid(token))
}

func TestLoginRegeneratesCollidingToken(t *testing.T) {
	store := Open("", "123456")
	seq := []string{"dup", "dup", "", "fresh"}
	store.newToken = func() string {
		next := seq[0]
		seq = seq[1:]
		return next
	}

	first, err := store.Login("123456")
	require.NoError(t, err)
	require.Equal(t, "dup", first)

	second, err := store.Login("123456")
	require.NoError(t, err)
	require.Equal(t, "fresh", second)
}

func TestConcurrentLoginsAllPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := Open(path, "123456")

	const n = 20
	var wg sync.WaitGroup
	tokens := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := store.Login("123456")
			if err == nil {
				tokens <- token
			}
		}()
	}
	wg.Wait()
	close(tokens)

	reloaded := Open(path, "123456")
	count := 0
	for token := range tokens {
		require.True(t, reloaded.IsValid(token))
		count++
	}
	require.Equal(t, n, count)
	require.Equal(t, n, reloaded.Count())
}
