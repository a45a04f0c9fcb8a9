package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Write(ctx, "global_scripts/echo.py", []byte("print('hi')"))
	require.NoError(t, err)

	data, err := store.Read(ctx, "global_scripts/echo.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("print('hi')"), data)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paths := []string{
		"../outside.txt",
		"global_scripts/../../outside.txt",
		"/etc/passwd",
		"..",
		"",
	}

	for _, p := range paths {
		_, err := store.Read(ctx, p)
		assert.Error(t, err, "path %q should be rejected", p)

		err = store.Write(ctx, p, []byte("x"))
		assert.Error(t, err, "path %q should be rejected", p)
	}
}

func TestLocalStoreRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))

	store, err := NewLocalStore(base)
	require.NoError(t, err)

	link := filepath.Join(store.Base(), "link.txt")
	require.NoError(t, os.Symlink(secret, link))

	_, err = store.Read(context.Background(), "link.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathOutsideBase)
}

func TestLocalStoreDeleteMissingIsNoop(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), "uploads/WSP-1/gone.txt")
	assert.NoError(t, err)
}

func TestScriptPathLayout(t *testing.T) {
	p, err := GlobalScriptPath("transform/echo.py")
	require.NoError(t, err)
	assert.Equal(t, "global_scripts/transform/echo.py", p)

	p, err = CustomScriptPath("WSP-1", "custom.py")
	require.NoError(t, err)
	assert.Equal(t, "custom_scripts/WSP-1/custom.py", p)

	_, err = GlobalScriptPath("../sneaky.py")
	assert.ErrorIs(t, err, ErrPathOutsideBase)

	_, err = CustomScriptPath("WSP-1", "a/../../b.py")
	assert.ErrorIs(t, err, ErrPathOutsideBase)

	_, err = CustomScriptPath("", "ok.py")
	assert.Error(t, err)
}
