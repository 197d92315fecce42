// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestStable(t *testing.T) {
	t.Parallel()

	a := Stable("node-1", "comments", "0")
	assert.Equal(t, a, Stable("node-1", "comments", "0"))
	assert.NotEqual(t, a, Stable("node-1", "comments", "1"))
	assert.NotEqual(t, a, Stable("node-2", "comments", "0"))

	parsed, err := goUUID.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(5), parsed.Version())
}
