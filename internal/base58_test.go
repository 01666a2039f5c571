package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeID(t *testing.T) {
	tests := []struct {
		id   uint64
		want string
	}{
		{0, "1"},
		{1, "2"},
		{57, "z"},
		{58, "21"},
		{58 * 58, "211"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeID(tt.id), "id %d", tt.id)
	}
}

func TestEncodeID_MaxValueUsesOnlyAlphabet(t *testing.T) {
	code := EncodeID(^uint64(0))
	assert.Len(t, code, 11)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(alphabet, r))
	}
}
