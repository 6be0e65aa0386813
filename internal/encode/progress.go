package encode

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
)

var progressLine = regexp.MustCompile(`^(\w+)=\s*(\S+)`)

// scanProgress reads ffmpeg's -progress key=value stream and reports the
// encoded fraction of the source duration through onProgress. Values are
// clamped to [0,1]; a final "progress=end" reports exactly 1.
func scanProgress(r io.Reader, durationSeconds float64, onProgress func(float64)) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := progressLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		switch m[1] {
		case "out_time_us":
			us, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil || durationSeconds <= 0 {
				continue
			}
			frac := float64(us) / 1e6 / durationSeconds
			if frac < 0 {
				frac = 0
			}
			if frac > 1 {
				frac = 1
			}
			onProgress(frac)
		case "progress":
			if m[2] == "end" {
				onProgress(1)
			}
		}
	}
}
