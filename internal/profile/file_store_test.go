package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidash/internal/types"
)

func newTestStore(t *testing.T, stateKey string) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), stateKey)
	require.NoError(t, err)
	return fs
}

func testProfile(name string) *Profile {
	return &Profile{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testBundle() *TokenBundle {
	return &TokenBundle{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		ExpiresAt:    time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
}

func TestProfileRoundTrip(t *testing.T) {
	fs := newTestStore(t, "")
	p := testProfile("Alice")

	require.NoError(t, fs.SaveProfile(p))
	got, err := fs.GetProfile(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTokenRoundTripSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	p := testProfile("Alice")
	bundle := testBundle()

	fs, err := NewFileStore(dir, "")
	require.NoError(t, err)
	require.NoError(t, fs.SaveProfile(p))
	require.NoError(t, fs.SaveToken(p.ID, bundle))

	// "restart": a fresh store over the same directory, no shared memory
	fs2, err := NewFileStore(dir, "")
	require.NoError(t, err)
	got, err := fs2.LoadToken(p.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
}

func TestEncryptedTokenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := testProfile("Bob")
	bundle := testBundle()

	fs, err := NewFileStore(dir, "super-secret-state-key")
	require.NoError(t, err)
	require.NoError(t, fs.SaveProfile(p))
	require.NoError(t, fs.SaveToken(p.ID, bundle))

	// file on disk must not contain the token in the clear
	raw, err := os.ReadFile(filepath.Join(dir, p.ID+".json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-abc")
	assert.Equal(t, "pds1", string(raw[:4]))

	fs2, err := NewFileStore(dir, "super-secret-state-key")
	require.NoError(t, err)
	got, err := fs2.LoadToken(p.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
}

func TestPlaintextFilesStillLoadAfterEnablingKey(t *testing.T) {
	dir := t.TempDir()
	p := testProfile("Carol")

	fs, err := NewFileStore(dir, "")
	require.NoError(t, err)
	require.NoError(t, fs.SaveProfile(p))

	fs2, err := NewFileStore(dir, "new-key")
	require.NoError(t, err)
	got, err := fs2.GetProfile(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}

func TestActiveProfileSwitchNeverLeaksTokens(t *testing.T) {
	fs := newTestStore(t, "")
	a, b := testProfile("A"), testProfile("B")
	require.NoError(t, fs.SaveProfile(a))
	require.NoError(t, fs.SaveProfile(b))

	tokenA := &TokenBundle{AccessToken: "token-A", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, fs.SaveToken(a.ID, tokenA))

	require.NoError(t, fs.SetActive(a.ID))
	require.NoError(t, fs.SetActive(b.ID))

	active, err := fs.GetActive()
	require.NoError(t, err)
	assert.Equal(t, b.ID, active)

	// B has no token: the read must not fall back to A's
	_, err = fs.LoadToken(b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSetActiveUnknownProfile(t *testing.T) {
	fs := newTestStore(t, "")
	err := fs.SetActive(uuid.New().String())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDeleteProfileRemovesTokenAndActive(t *testing.T) {
	fs := newTestStore(t, "")
	p := testProfile("Dave")
	require.NoError(t, fs.SaveProfile(p))
	require.NoError(t, fs.SaveToken(p.ID, testBundle()))
	require.NoError(t, fs.SetActive(p.ID))

	require.NoError(t, fs.DeleteProfile(p.ID))

	_, err := fs.GetProfile(p.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = fs.LoadToken(p.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	active, err := fs.GetActive()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAtomicWriteLeavesNoTempFile(t *testing.T) {
	fs := newTestStore(t, "")
	p := testProfile("Eve")
	require.NoError(t, fs.SaveProfile(p))
	require.NoError(t, fs.SaveToken(p.ID, testBundle()))

	entries, err := os.ReadDir(fs.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestSaveProfileDoesNotClobberUnreadableRecord(t *testing.T) {
	fs := newTestStore(t, "")
	p := testProfile("Alice")
	require.NoError(t, fs.SaveProfile(p))
	require.NoError(t, fs.SaveToken(p.ID, &TokenBundle{
		AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	}))

	// Simulate on-disk damage: the record exists but cannot be decoded.
	path := fs.profilePath(p.ID)
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0600))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = fs.SaveProfile(p)
	require.Error(t, err, "a read failure is not a missing record")
	assert.False(t, errors.Is(err, types.ErrNotFound))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the damaged file is left for inspection, not overwritten")
}

func TestListProfiles(t *testing.T) {
	fs := newTestStore(t, "")
	require.NoError(t, fs.SaveProfile(testProfile("One")))
	require.NoError(t, fs.SaveProfile(testProfile("Two")))

	profiles, err := fs.ListProfiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}

func TestValidate(t *testing.T) {
	p := testProfile("")
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))

	p.Name = "ok"
	assert.NoError(t, p.Validate())
}
