package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	a := NewID("rft")
	b := NewID("rft")
	assert.True(t, strings.HasPrefix(a, "rft_"))
	assert.NotEqual(t, a, b)
}

func TestNewUUIDParses(t *testing.T) {
	_, err := uuid.Parse(NewUUID())
	require.NoError(t, err)
}
