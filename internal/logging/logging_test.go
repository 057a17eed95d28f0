package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriterLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())
	log.Warn().Str("key", "k").Msg("shown")
	assert.Contains(t, buf.String(), `"key":"k"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestNewWithWriterFallsBackToInfo(t *testing.T) {
	for _, lvl := range []string{"", "loud", " DEBUGGING "} {
		log := NewWithWriter(&bytes.Buffer{}, lvl)
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel(), lvl)
	}
	assert.Equal(t, zerolog.DebugLevel, NewWithWriter(&bytes.Buffer{}, " DEBUG ").GetLevel())
}
