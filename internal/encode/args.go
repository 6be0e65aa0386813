package encode

import (
	"fmt"

	"github.com/mantonx/vodforge/internal/plan"
)

// rateCaps is the per-rung bitrate ceiling, keyed by ladder height. Encoding
// is constant-quality (CRF) with these caps so simple content stays small
// while complex content cannot blow past the rung's delivery budget.
var rateCaps = map[int]string{
	360:  "800k",
	720:  "2500k",
	1080: "5000k",
	1440: "10000k",
	2160: "20000k",
}

// buildEncodeArgs assembles the ffmpeg invocation for one rung. The scale
// filter pins the rung height and lets ffmpeg derive an even width, so
// non-16:9 sources keep their aspect ratio. -progress pipe:2 emits
// machine-readable progress on stderr.
func buildEncodeArgs(sourcePath, outputPath string, rung plan.Descriptor) []string {
	maxRate := rateCaps[rung.Height]

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-vf", fmt.Sprintf("scale=-2:%d", rung.Height),
	}
	if maxRate != "" {
		args = append(args,
			"-maxrate", maxRate,
			"-bufsize", doubleRate(maxRate),
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:2",
		outputPath,
	)
	return args
}

// doubleRate turns "2500k" into "5000k" for the VBV buffer size.
func doubleRate(rate string) string {
	var n int
	if _, err := fmt.Sscanf(rate, "%dk", &n); err != nil {
		return rate
	}
	return fmt.Sprintf("%dk", n*2)
}

// buildThumbnailArgs grabs a single frame at the given offset. Seeking
// before -i keeps extraction fast on long sources.
func buildThumbnailArgs(sourcePath, outputPath string, atSeconds float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", fmt.Sprintf("%.2f", atSeconds),
		"-i", sourcePath,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		outputPath,
	}
}
