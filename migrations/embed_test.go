package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, n := range names {
		body, err := fs.ReadFile(FS, n)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", n)
		assert.Contains(t, string(body), "-- +goose Down", n)
	}
	first, err := fs.ReadFile(FS, names[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(first), "key_bundles"))
}
