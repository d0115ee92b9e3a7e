package common

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.String(), "(in-memory)")
	assert.Contains(t, cfg.String(), "INDEXES")

	tests := []struct {
		name   string
		modify func(*DatabaseConfig)
	}{
		{"LogLevel", func(c *DatabaseConfig) { c.LogLevel = "loud" }},
		{"Serializer", func(c *DatabaseConfig) { c.Serializer = "xml" }},
		{"Compression", func(c *DatabaseConfig) { c.Compression = "brotli" }},
		{"PageSize", func(c *DatabaseConfig) { c.PageSize = 0 }},
		{"Threshold", func(c *DatabaseConfig) { c.OptimizeThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultDatabaseConfig()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestIndexConfiguration(t *testing.T) {
	cfg := NewIndexConfiguration("NOTUNIQUE", "byName", false, []string{"person"}, rid.RID{Partition: 2, Position: 0})
	assert.False(t, cfg.IsAutomatic())
	id, ok := cfg.Identity()
	assert.True(t, ok)
	assert.Equal(t, rid.RID{Partition: 2, Position: 0}, id)

	bare := &IndexConfiguration{Type: "UNIQUE", Name: "x"}
	assert.True(t, bare.IsAutomatic(), "absent automatic flag defaults to true")
	_, ok = bare.Identity()
	assert.False(t, ok)

	none := NewIndexConfiguration("UNIQUE", "y", true, nil, rid.Invalid)
	assert.Nil(t, none.MapIdentity)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := logOutput
	logOutput = &buf
	defer func() { logOutput = prev }()

	l := CreateLogger("index")
	l.Infof("built %d entries", 3)
	l.Debugf("hidden")
	l.SetLevel(logger.DEBUG)
	l.Debugf("visible")

	out := buf.String()
	assert.Contains(t, out, "INFO  | index           | built 3 entries")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Panics(t, func() { l.Panicf("boom") })

	_, err := ParseLogLevel("nope")
	assert.Error(t, err)
}
