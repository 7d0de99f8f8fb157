package index_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/internal/archivetest"
	"igarchive/pkg/archive"
	"igarchive/pkg/index"
)

func TestScanAccounts(t *testing.T) {
	base := t.TempDir()
	archivetest.WriteRaw(t, filepath.Join(base, "zoe"), archive.IndexFile, "[]")
	archivetest.WriteRaw(t, filepath.Join(base, "alice"), archive.IndexFile, `[{"id":"x"}]`)
	archivetest.WriteRaw(t, filepath.Join(base, "broken"), archive.IndexFile, "{")
	archivetest.WriteRaw(t, filepath.Join(base, "nulled"), archive.IndexFile, "null")
	archivetest.WriteRaw(t, filepath.Join(base, "object"), archive.IndexFile, `{"id":"x"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "noindex"), 0755))
	archivetest.WriteRaw(t, base, "stray.json", "[]")

	accounts, err := index.ScanAccounts(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "zoe"}, accounts)
}

func TestScanAccounts_MissingBase(t *testing.T) {
	accounts, err := index.ScanAccounts(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRebuildRegistry(t *testing.T) {
	base := t.TempDir()

	accounts, err := index.RebuildRegistry(base)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	data, err := os.ReadFile(filepath.Join(base, archive.RegistryFile))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	archivetest.WriteRaw(t, filepath.Join(base, "alice"), archive.IndexFile, "[]")
	accounts, err = index.RebuildRegistry(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, accounts)

	loaded, err := index.LoadRegistry(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, loaded)
}

func TestLoadRegistry_Missing(t *testing.T) {
	accounts, err := index.LoadRegistry(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{}, accounts)
}
