package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"longer", "abcdef", 5, "abcde"},
		{"multibyte", "ééééé", 3, "ééé"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestTruncateURLPath(t *testing.T) {
	path := "/" + strings.Repeat("a", 599)
	got := Truncate(path, MaxURLLength)
	assert.Len(t, got, 500)
	assert.True(t, strings.HasPrefix(path, got))
}

func TestTruncatePtr(t *testing.T) {
	assert.Nil(t, TruncatePtr(nil, 3))
	s := "abcdef"
	assert.Equal(t, "abc", *TruncatePtr(&s, 3))
}
