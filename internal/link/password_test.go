package link_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/link"
)

func TestCheckPassword(t *testing.T) {
	hash, err := link.HashPassword("correct")
	require.NoError(t, err)

	l := &internal.Link{Visibility: internal.VisibilityPrivate, PasswordHash: &hash}
	assert.True(t, link.CheckPassword(l, "correct"))
	assert.False(t, link.CheckPassword(l, "wrong"))
	assert.False(t, link.CheckPassword(l, ""))
}

func TestCheckPassword_RequiresPrivateVisibility(t *testing.T) {
	hash, err := link.HashPassword("correct")
	require.NoError(t, err)

	l := &internal.Link{Visibility: internal.VisibilityPublic, PasswordHash: &hash}
	assert.False(t, link.CheckPassword(l, "correct"))
}

func TestCheckPassword_NoHash(t *testing.T) {
	l := &internal.Link{Visibility: internal.VisibilityPrivate}
	assert.False(t, link.CheckPassword(l, ""))
}
