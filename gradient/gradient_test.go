package gradient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample(t *testing.T) {
	end := DefaultStops.LightEnd
	tests := []struct {
		name string
		t    float64
		want RGB
	}{
		{"t=0 is the anchor", 0, RGB{26, 115, 232}},
		{"t=0.5 is the accent", 0.5, RGB{220, 38, 38}},
		{"quarter way to accent", 6.0 / 48, RGB{75, 96, 184}},
		{"halfway to accent", 0.25, RGB{123, 77, 135}},
		{"halfway to end", 0.75, RGB{119, 31, 39}},
		{"negative clamps to anchor", -3, RGB{26, 115, 232}},
		{"above one clamps to end", 7, end},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sample(tt.t, end))
		})
	}
}

func TestSampleApproachesEnd(t *testing.T) {
	end := RGB{255, 255, 255}
	got := DefaultStops.Sample(47.0/48, end)
	// Last step of a 48-cycle is within 1/24 of the end colour.
	assert.InDelta(t, 255, int(got.R), 255.0/24+1)
	assert.InDelta(t, 255, int(got.G), 255.0/24+1)
}

func TestStopsEnd(t *testing.T) {
	assert.Equal(t, DefaultStops.LightEnd, DefaultStops.End(Light))
	assert.Equal(t, DefaultStops.DarkEnd, DefaultStops.End(Dark))
}

func TestCycle(t *testing.T) {
	end := DefaultStops.End(Dark)
	cyc := DefaultStops.Cycle(48, end)
	require.Len(t, cyc, 48)
	for k, c := range cyc {
		assert.Equal(t, DefaultStops.Sample(float64(k)/48, end), c, "k=%d", k)
	}
	assert.Nil(t, DefaultStops.Cycle(0, end))
}

func TestHex(t *testing.T) {
	c, err := ParseHex("#1a73e8")
	require.NoError(t, err)
	assert.Equal(t, RGB{26, 115, 232}, c)
	assert.Equal(t, "#1a73e8", c.Hex())

	_, err = ParseHex("blue")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Dark\n")
	require.NoError(t, err)
	assert.Equal(t, Dark, m)
	assert.Equal(t, "dark", m.String())

	m, err = ParseMode("light")
	require.NoError(t, err)
	assert.Equal(t, Light, m)

	_, err = ParseMode("sepia")
	assert.Error(t, err)
}
