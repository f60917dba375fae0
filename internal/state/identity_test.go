package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrInitCreatesIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.json")
	id, err := LoadOrInit(path)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^device_[0-9a-f]{8}$`), id.DeviceID)
	assert.Equal(t, DefaultDeviceName, id.DeviceName)
	assert.False(t, id.LoggedIn())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := LoadOrInit(path)
	require.NoError(t, err)
	assert.Equal(t, id.DeviceID, again.DeviceID)
}

func TestLoadOrInitFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":"abc","serverUrl":"https://ivr.example"}`), 0o600))

	id, err := LoadOrInit(path)
	require.NoError(t, err)
	assert.NotEmpty(t, id.DeviceID)
	assert.Equal(t, "abc", id.Token)
	assert.Equal(t, "https://ivr.example", id.ServerURL)

	reloaded, err := LoadOrInit(path)
	require.NoError(t, err)
	assert.Equal(t, id.DeviceID, reloaded.DeviceID)
}

func TestLoadOrInitRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err := LoadOrInit(path)
	assert.Error(t, err)
}

func TestLogoutKeepsDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	id := &Identity{DeviceID: "device_0000beef", DeviceName: "Desk", Token: "tok"}
	require.True(t, id.LoggedIn())
	id.Logout()
	require.NoError(t, Save(path, id))

	reloaded, err := LoadOrInit(path)
	require.NoError(t, err)
	assert.Equal(t, "device_0000beef", reloaded.DeviceID)
	assert.Empty(t, reloaded.Token)
}

type memoryTokenStore struct {
	token   string
	saved   []string
	loadErr error
}

func (m *memoryTokenStore) Load(context.Context) (string, error) {
	return m.token, m.loadErr
}

func (m *memoryTokenStore) Save(_ context.Context, token string) error {
	m.saved = append(m.saved, token)
	m.token = token
	return nil
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()

	store := &memoryTokenStore{token: "from-store"}
	id := &Identity{DeviceID: "device_1"}
	moved, err := ResolveToken(ctx, id, store)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, "from-store", id.Token)

	store = &memoryTokenStore{}
	id = &Identity{DeviceID: "device_1", Token: "plain"}
	moved, err = ResolveToken(ctx, id, store)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"plain"}, store.saved)

	store = &memoryTokenStore{loadErr: errors.New("boom")}
	_, err = ResolveToken(ctx, &Identity{}, store)
	assert.Error(t, err)

	moved, err = ResolveToken(ctx, &Identity{}, nil)
	assert.NoError(t, err)
	assert.False(t, moved)
}
