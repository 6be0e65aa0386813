package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(rungs []Descriptor) []string {
	out := make([]string, len(rungs))
	for i, r := range rungs {
		out[i] = r.Label
	}
	return out
}

func TestForSource_FullHD(t *testing.T) {
	rungs, err := ForSource(1920, 1080)
	require.NoError(t, err)
	assert.Equal(t, []string{"360p", "720p", "1080p"}, labels(rungs))
}

func TestForSource_NeverUpscales(t *testing.T) {
	cases := []struct {
		name          string
		width, height int
		want          []string
	}{
		{"4k source gets full ladder", 3840, 2160, []string{"360p", "720p", "1080p", "1440p", "2160p"}},
		{"1440p stops below 2160p", 2560, 1440, []string{"360p", "720p", "1080p", "1440p"}},
		{"720p stops below 1080p", 1280, 720, []string{"360p", "720p"}},
		{"exactly 360p", 640, 360, []string{"360p"}},
		{"just under 720p", 1278, 719, []string{"360p"}},
		{"odd vertical video", 1080, 1920, []string{"360p", "720p", "1080p"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rungs, err := ForSource(tc.width, tc.height)
			require.NoError(t, err)
			assert.Equal(t, tc.want, labels(rungs))
			for _, r := range rungs {
				assert.LessOrEqual(t, r.Height, max(tc.height, 360))
			}
		})
	}
}

func TestForSource_TinySourceGetsSmallestRung(t *testing.T) {
	rungs, err := ForSource(320, 240)
	require.NoError(t, err)
	require.Len(t, rungs, 1)
	assert.Equal(t, "360p", rungs[0].Label)
}

func TestForSource_AlwaysAscendingAndNonEmpty(t *testing.T) {
	for h := 1; h < 5000; h += 97 {
		rungs, err := ForSource(h*16/9+1, h)
		require.NoError(t, err)
		require.NotEmpty(t, rungs, "height %d", h)
		for i := 1; i < len(rungs); i++ {
			assert.Greater(t, rungs[i].Height, rungs[i-1].Height)
		}
	}
}

func TestForSource_InvalidDimensions(t *testing.T) {
	_, err := ForSource(0, 1080)
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = ForSource(1920, -1)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestLadder_ReturnsCopy(t *testing.T) {
	l := Ladder()
	l[0].Label = "mutated"
	assert.Equal(t, "360p", Ladder()[0].Label)
}
