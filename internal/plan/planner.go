// Package plan derives the set of output resolutions to generate for a
// source video. The ladder is fixed; planning only filters it against the
// source dimensions so nothing is ever upscaled.
package plan

import (
	"errors"
	"fmt"
)

// Descriptor identifies one rung of the transcode ladder. Values are
// immutable and drawn from the static ladder below.
type Descriptor struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%dx%d)", d.Label, d.Width, d.Height)
}

// ladder is ascending by height. Encode order follows this order so the
// lowest-quality streamable artifact is ready earliest.
var ladder = []Descriptor{
	{Label: "360p", Width: 640, Height: 360},
	{Label: "720p", Width: 1280, Height: 720},
	{Label: "1080p", Width: 1920, Height: 1080},
	{Label: "1440p", Width: 2560, Height: 1440},
	{Label: "2160p", Width: 3840, Height: 2160},
}

// ErrInvalidSource is returned when the probed dimensions are unusable.
// A valid probe never produces this; treat it as an internal invariant
// violation.
var ErrInvalidSource = errors.New("plan: source dimensions must be positive")

// Ladder returns a copy of the full static ladder, ascending by height.
func Ladder() []Descriptor {
	out := make([]Descriptor, len(ladder))
	copy(out, ladder)
	return out
}

// ForSource returns the rungs to encode for a source of the given
// dimensions, ascending by height. A rung is included only when its height
// does not exceed the source height. Sources smaller than the smallest rung
// still get exactly that rung, so every job produces at least one playable
// output. The untouched original file is always available for playback and
// is not part of the returned plan.
func ForSource(width, height int) ([]Descriptor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidSource, width, height)
	}

	var rungs []Descriptor
	for _, d := range ladder {
		if d.Height <= height {
			rungs = append(rungs, d)
		}
	}
	if len(rungs) == 0 {
		rungs = []Descriptor{ladder[0]}
	}
	return rungs, nil
}
