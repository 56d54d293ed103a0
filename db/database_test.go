package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUniqueName(t *testing.T) {
	name, err := GenerateUniqueName("test_")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(name, "test_"), "name %q must keep its prefix", name)
	assert.Len(t, name, len("test_")+16, "8 random bytes hex-encode to 16 characters")
	assert.Equal(t, strings.ToLower(name), name)
	assert.NotContains(t, name, "-")
}

func TestGenerateUniqueNameIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		name, err := GenerateUniqueName("test_")
		require.NoError(t, err)
		_, dup := seen[name]
		require.False(t, dup, "duplicate generated name %q", name)
		seen[name] = struct{}{}
	}
}

func TestGenerateUniqueNameTruncatesToIdentifierLimit(t *testing.T) {
	name, err := GenerateUniqueName(strings.Repeat("x", 80))
	require.NoError(t, err)
	assert.Len(t, name, 63)
}

func TestGenerateUniqueNameSanitizesPrefix(t *testing.T) {
	name, err := GenerateUniqueName("My-Project-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "my_project_"), "got %q", name)
}
