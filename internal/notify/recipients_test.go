package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipients(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "email.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRecipientBook_LookupExplicit(t *testing.T) {
	path := writeRecipients(t, t.TempDir(), `{"store-1": ["a@x.com"], "default": ["ops@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x.com"}, b.Lookup("store-1"))
}

func TestRecipientBook_LookupFallsBackToDefault(t *testing.T) {
	path := writeRecipients(t, t.TempDir(), `{"default": ["ops@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ops@x.com"}, b.Lookup("unknown-store"))
}

func TestRecipientBook_LookupEmptyExplicitFallsBackToDefault(t *testing.T) {
	path := writeRecipients(t, t.TempDir(), `{"store-1": [], "default": ["ops@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ops@x.com"}, b.Lookup("store-1"))
}

func TestRecipientBook_LookupNoDefaultReturnsNil(t *testing.T) {
	path := writeRecipients(t, t.TempDir(), `{"store-1": ["a@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	assert.Empty(t, b.Lookup("unknown-store"))
}

func TestRecipientBook_MissingFileStartsEmpty(t *testing.T) {
	b, err := NewRecipientBook(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Empty(t, b.Lookup("store-1"))
}

func TestRecipientBook_ReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeRecipients(t, dir, `{"store-1": ["a@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"store-1": ["b@x.com"]}`), 0o644))
	require.NoError(t, b.Reload())

	assert.Equal(t, []string{"b@x.com"}, b.Lookup("store-1"))
}

func TestRecipientBook_ReloadBadJSONReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := writeRecipients(t, dir, `{"store-1": ["a@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	err = b.Reload()
	assert.Error(t, err)

	assert.Equal(t, []string{"a@x.com"}, b.Lookup("store-1"), "a failed reload must not clobber the existing map")
}

func TestRecipientBook_SnapshotIsACopy(t *testing.T) {
	path := writeRecipients(t, t.TempDir(), `{"store-1": ["a@x.com"]}`)
	b, err := NewRecipientBook(path)
	require.NoError(t, err)

	snap := b.Snapshot()
	snap["store-1"][0] = "mutated"

	assert.Equal(t, []string{"a@x.com"}, b.Lookup("store-1"))
}
