package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("prod", "info", &buf)

	log.Info().Int64("appointment_id", 7).Msg("booked")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "booked", line["message"])
	assert.Equal(t, float64(7), line["appointment_id"])
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("prod", "warn", &buf)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("prod", "loud", &buf)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
