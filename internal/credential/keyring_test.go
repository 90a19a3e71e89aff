package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/novel-notify/internal/api"
)

func newFileStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenFile(t.TempDir(), "test-password")
	require.NoError(t, err)
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	t.Setenv(EnvSession, "")
	t.Setenv(EnvCSRF, "")
	s := newFileStore(t)

	require.NoError(t, s.Set("k", "v"))
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete("k"), "deleting twice is fine")
}

func TestStore_SaveAndLoadByHost(t *testing.T) {
	t.Setenv(EnvSession, "")
	t.Setenv(EnvCSRF, "")
	s := newFileStore(t)

	creds := api.Credentials{SessionID: "abc", CSRFToken: "xyz"}
	require.NoError(t, s.Save("https://novels.example.com/", creds))

	got, err := s.Load("https://novels.example.com")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = s.Load("https://other.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvSession, "from-env")
	t.Setenv(EnvCSRF, "")
	s := newFileStore(t)
	require.NoError(t, s.Save("https://novels.example.com", api.Credentials{
		SessionID: "stored",
		CSRFToken: "stored-csrf",
	}))

	got, err := s.Load("https://novels.example.com")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.SessionID)
	assert.Equal(t, "stored-csrf", got.CSRFToken)

	var nilStore *Store
	got, err = nilStore.Load("https://novels.example.com")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.SessionID)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "session-novels.example.com:8443", SessionKey("https://novels.example.com:8443/app"))
	assert.Equal(t, "csrf-localhost", CSRFKey("localhost"))
}
