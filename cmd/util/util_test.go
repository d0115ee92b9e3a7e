package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		raw, typ string
		want     any
	}{
		{"Ada", "string", "Ada"},
		{"Ada", "", "Ada"},
		{"42", "int", int64(42)},
		{"-1.5", "float", -1.5},
		{"true", "bool", true},
		{"0", "bool", false},
		{"2024-05-01T10:00:00Z", "time", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.raw, tt.typ)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range [][2]string{{"x", "int"}, {"x", "float"}, {"maybe", "bool"}, {"yesterday", "time"}, {"1", "uuid"}} {
		_, err := ParseKey(bad[0], bad[1])
		assert.Error(t, err, bad)
	}
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString("the quick brown fox jumps over the lazy dog and keeps running until the line is long")
	for _, line := range splitLines(wrapped) {
		assert.LessOrEqual(t, len(line), Wrap)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := range s {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
